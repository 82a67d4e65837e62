package timeline

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDecodeTraceOrder(t *testing.T) {
	items := []TraceItem{
		{
			Loop:        1,
			ModelOutput: "before <plan>search the docs</plan> after",
			ToolCalls: []ToolCall{
				{Name: "search", Args: map[string]any{"query": "go"}},
				{Name: ""}, // 空名跳过
				{Name: "read_file"},
			},
			ToolResultsXML: `<sentra-result tool="search" success="true">3 hits</sentra-result>`,
		},
		{
			Loop:        2,
			ModelOutput: "no plan this turn",
		},
	}

	events := DecodeTrace(items)
	wantTypes := []string{EventPlan, EventToolStart, EventToolStart, EventToolResult}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, wt := range wantTypes {
		if events[i].Type != wt {
			t.Errorf("event[%d].Type = %q, want %q", i, events[i].Type, wt)
		}
	}

	if events[0].Text != "search the docs" || events[0].Loop != 1 {
		t.Errorf("plan event = %+v", events[0])
	}
	if events[1].Tool != "search" || events[1].Args["query"] != "go" {
		t.Errorf("tool_start event = %+v", events[1])
	}
	// Args 缺省为 {}, 而非 nil
	if events[2].Args == nil || len(events[2].Args) != 0 {
		t.Errorf("tool_start without args should default to empty map: %+v", events[2])
	}
	if !events[3].Success || events[3].Data["raw"] != "3 hits" {
		t.Errorf("tool_result event = %+v", events[3])
	}
}

func TestDecodeTraceUnparseableResultsBecomeInfo(t *testing.T) {
	items := []TraceItem{{
		Loop:           3,
		ToolResultsXML: "tool backend returned garbage, not blocks",
	}}

	events := DecodeTrace(items)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != EventInfo {
		t.Errorf("type = %q, want info", events[0].Type)
	}
	if events[0].Text != "tool backend returned garbage, not blocks" {
		t.Errorf("info must carry the raw payload: %q", events[0].Text)
	}
}

func TestDecodeTraceBlankResultsSkipped(t *testing.T) {
	events := DecodeTrace([]TraceItem{{ToolResultsXML: "   \n  "}})
	if len(events) != 0 {
		t.Fatalf("blank results must not emit events: %+v", events)
	}
}

func TestBuildPrecedence(t *testing.T) {
	explicit := []Event{{Type: EventFinal, Text: "done"}}
	trace := []TraceItem{{ModelOutput: "<plan>ignored</plan>"}}

	got := Build(explicit, trace)
	if !reflect.DeepEqual(got, explicit) {
		t.Fatalf("events must win over trace, got %+v", got)
	}
}

func TestBuildFallsBackToTrace(t *testing.T) {
	trace := []TraceItem{{ModelOutput: "<plan>from trace</plan>", Loop: 1}}
	got := Build(nil, trace)
	if len(got) != 1 || got[0].Type != EventPlan || got[0].Text != "from trace" {
		t.Fatalf("trace fallback failed: %+v", got)
	}
}

func TestBuildEmpty(t *testing.T) {
	if got := Build(nil, nil); got != nil {
		t.Fatalf("empty meta should yield nil, got %+v", got)
	}
}

// 幂等性: 同一输入调用两次结果一致, 且不改动入参。
func TestBuildIdempotent(t *testing.T) {
	trace := []TraceItem{{
		ModelOutput:    "<plan>p</plan>",
		ToolCalls:      []ToolCall{{Name: "t"}},
		ToolResultsXML: `<sentra-result tool="t" success="false">err</sentra-result>`,
	}}

	first := Build(nil, trace)
	second := Build(nil, trace)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Build is not idempotent:\n%+v\n%+v", first, second)
	}
	if trace[0].ModelOutput != "<plan>p</plan>" {
		t.Fatal("Build mutated its input")
	}
}

func TestIsErrorState(t *testing.T) {
	tests := []struct {
		name string
		e    Event
		want bool
	}{
		{"error_event", Event{Type: EventError}, true},
		{"failed_tool_result", Event{Type: EventToolResult, Success: false}, true},
		{"ok_tool_result", Event{Type: EventToolResult, Success: true}, false},
		{"plan", Event{Type: EventPlan}, false},
		{"info", Event{Type: EventInfo}, false},
		{"final", Event{Type: EventFinal}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErrorState(tt.e); got != tt.want {
				t.Errorf("IsErrorState(%+v) = %v, want %v", tt.e, got, tt.want)
			}
		})
	}
}

func TestEventUnmarshalPermissive(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			"full",
			`{"type":"tool_result","tool":"search","success":true,"loop":2,"at":"2026-01-02T03:04:05Z"}`,
			Event{Type: EventToolResult, Tool: "search", Success: true, Loop: 2, At: "2026-01-02T03:04:05Z"},
		},
		{
			"minimal",
			`{"type":"plan"}`,
			Event{Type: EventPlan},
		},
		{
			"unknown_fields_ignored",
			`{"type":"info","bogus":123,"extra":{"a":1}}`,
			Event{Type: EventInfo},
		},
		{
			"at_as_unix_millis",
			`{"type":"final","at":1767322800000}`,
			Event{Type: EventFinal, At: "2026-01-02T03:00:00Z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Event
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
