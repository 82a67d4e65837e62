package sentraxml

import (
	"strings"
	"testing"
)

func TestExtractTag(t *testing.T) {
	tests := []struct {
		name string
		text string
		tag  string
		want string
	}{
		{"simple", "<plan>do the thing</plan>", "plan", "do the thing"},
		{"trimmed", "<plan>\n  spaced out \n</plan>", "plan", "spaced out"},
		{"case_insensitive", "<PLAN>upper</PLAN>", "plan", "upper"},
		{"first_match_wins", "<plan>first</plan><plan>second</plan>", "plan", "first"},
		{"multiline_body", "<plan>line1\nline2</plan>", "plan", "line1\nline2"},
		{"embedded_in_prose", "thinking... <plan>x</plan> done", "plan", "x"},
		{"absent", "no tags here", "plan", ""},
		{"unclosed", "<plan>never closed", "plan", ""},
		{"empty_text", "", "plan", ""},
		{"empty_tag", "<plan>x</plan>", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTag(tt.text, tt.tag); got != tt.want {
				t.Errorf("ExtractTag(%q, %q) = %q, want %q", tt.text, tt.tag, got, tt.want)
			}
		})
	}
}

// 往返性质: 任意不含 <plan> 的文本 T, wrap 后提取应得 trim(T)。
func TestExtractTagRoundTrip(t *testing.T) {
	inputs := []string{"hello", "  padded  ", "multi\nline\ntext", "符号 & <other>tags</other>"}
	for _, in := range inputs {
		got := ExtractTag("<plan>"+in+"</plan>", "plan")
		if want := strings.TrimSpace(in); got != want {
			t.Errorf("round trip failed for %q: got %q, want %q", in, got, want)
		}
	}
}

func TestExtractBlocks(t *testing.T) {
	xml := `prefix
<sentra-result tool="search" success="true">found 3 docs</sentra-result>
<sentra-result tool="read_file" success="false">no such file</sentra-result>
<sentra-result tool="bare">no success attr</sentra-result>
suffix`

	blocks := ExtractBlocks(xml, "sentra-result")
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}

	if blocks[0].Tool() != "search" || !blocks[0].Success() {
		t.Errorf("block 0: tool=%q success=%v", blocks[0].Tool(), blocks[0].Success())
	}
	if blocks[0].Raw != "found 3 docs" {
		t.Errorf("block 0 raw = %q", blocks[0].Raw)
	}
	if blocks[1].Success() {
		t.Error("block 1: success=false attr should parse as false")
	}
	if blocks[2].Success() {
		t.Error("block 2: missing success attr must default to false")
	}
	if blocks[2].Tool() != "bare" {
		t.Errorf("block 2 tool = %q", blocks[2].Tool())
	}
}

func TestExtractBlocksMalformed(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want int
	}{
		{"empty", "", 0},
		{"no_blocks", "just text", 0},
		{"unclosed", `<sentra-result tool="x">dangling`, 0},
		{"garbage_attrs", `<sentra-result ===garbage>body</sentra-result>`, 1},
		{"case_insensitive", `<SENTRA-RESULT TOOL="x">y</SENTRA-RESULT>`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBlocks(tt.xml, "sentra-result")
			if len(got) != tt.want {
				t.Errorf("got %d blocks, want %d", len(got), tt.want)
			}
		})
	}
}

func TestExtractBlocksUppercaseAttrKey(t *testing.T) {
	blocks := ExtractBlocks(`<sentra-result Tool="grep" SUCCESS="true">ok</sentra-result>`, "sentra-result")
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks", len(blocks))
	}
	if blocks[0].Tool() != "grep" || !blocks[0].Success() {
		t.Errorf("attr keys should be case-folded: %+v", blocks[0].Attrs)
	}
}

func TestExtractTypedParam(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		key  string
		want string
	}{
		{
			"string_value",
			`<parameter name="x"><string>a</string></parameter>`,
			"x", "a",
		},
		{
			"number_value",
			`<parameter name="limit"><number>42</number></parameter>`,
			"limit", "42",
		},
		{
			"boolean_value",
			`<parameter name="force"><boolean>true</boolean></parameter>`,
			"force", "true",
		},
		{
			"null_value",
			`<parameter name="opt"><null></null></parameter>`,
			"opt", "",
		},
		{
			"mismatched_closing_type",
			`<parameter name="x"><string>a</number></parameter>`,
			"x", "",
		},
		{
			"second_match_after_mismatch",
			`<parameter name="x"><string>a</number></parameter><parameter name="x"><string>b</string></parameter>`,
			"x", "b",
		},
		{
			"missing_param",
			`<parameter name="y"><string>a</string></parameter>`,
			"x", "",
		},
		{
			"trimmed",
			`<parameter name="x"><string>  padded  </string></parameter>`,
			"x", "padded",
		},
		{"empty_xml", "", "x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTypedParam(tt.xml, tt.key); got != tt.want {
				t.Errorf("ExtractTypedParam(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestExtractTypedArray(t *testing.T) {
	xml := `<parameter name="paths"><array>
		<string>a.go</string>
		<string>b.go</string>
	</array></parameter>`

	got := ExtractTypedArray(xml, "paths")
	if len(got) != 2 || got[0] != "a.go" || got[1] != "b.go" {
		t.Fatalf("ExtractTypedArray = %v", got)
	}

	if got := ExtractTypedArray(xml, "missing"); got != nil {
		t.Errorf("missing param should be nil, got %v", got)
	}
	if got := ExtractTypedArray(`<parameter name="paths"><array></array></parameter>`, "paths"); got != nil {
		t.Errorf("empty array should be nil, got %v", got)
	}
}

func TestRegexSpecialTagName(t *testing.T) {
	// 标签名里的正则元字符必须按字面量处理, 不能 panic
	if got := ExtractTag("<a.b>x</a.b>", "a.b"); got != "x" {
		t.Errorf("ExtractTag with dot = %q", got)
	}
	if got := ExtractTag("<aXb>x</aXb>", "a.b"); got != "" {
		t.Errorf("dot must not act as wildcard, got %q", got)
	}
}
