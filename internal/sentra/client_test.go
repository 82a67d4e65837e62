package sentra

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
)

func TestCompleteSendsPayload(t *testing.T) {
	var got Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAPIKey("sk-test"), WithAgentMode("deepwiki_sentra_xml"))
	body, err := c.Complete(context.Background(), Request{
		Messages:     []ChatMessage{{Role: "user", Content: "hello"}},
		AgentStateID: "st-1",
		ToolConfirmation: &ToolConfirmation{
			Required:  true,
			Confirmed: true,
			ToolsXML:  "<sentra-tools/>",
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(string(body), "hi") {
		t.Errorf("body = %s", body)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("auth header = %q", auth)
	}
	if got.Stream {
		t.Error("Complete must force stream=false")
	}
	if got.AgentMode != "deepwiki_sentra_xml" {
		t.Errorf("agent_mode = %q, want client default", got.AgentMode)
	}
	if got.AgentStateID != "st-1" {
		t.Errorf("agent_state_id = %q", got.AgentStateID)
	}
	if got.ToolConfirmation == nil || !got.ToolConfirmation.Confirmed {
		t.Errorf("tool_confirmation = %+v", got.ToolConfirmation)
	}
}

func TestStreamForcesStreamFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Stream must force stream=true")
		}
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n"))
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL).Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if !strings.Contains(string(raw), "delta") {
		t.Errorf("stream body = %q", raw)
	}
}

func TestNon2xxSurfacesServerText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent backend exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("want error for 502")
	}
	if !strings.Contains(err.Error(), "agent backend exploded") {
		t.Errorf("error must carry server text: %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error must carry status code: %v", err)
	}
}

func TestStreamOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.Write([]byte(`{"choices":[{"delta":{"content":"first"}}]}` + "\n"))
		f.Flush()
		time.Sleep(60 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"delta":{"content":"second"}}]}` + "\n"))
	}))
	defer srv.Close()

	// 超时远小于流的持续时间: 流必须完整读到最后一帧
	c := NewClient(srv.URL, WithTimeout(10*time.Millisecond))
	body, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("stream severed mid-read: %v", err)
	}
	if !strings.Contains(string(raw), "second") {
		t.Errorf("stream body missing late frame: %q", raw)
	}
}

func TestCompleteHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("want timeout error")
	}
	// 超时是传输失败, 不能伪装成用户取消
	if apperrors.IsCancelled(err) {
		t.Errorf("timeout must not surface as cancellation: %v", err)
	}
}

func TestCancelledRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL).Complete(ctx, Request{})
	if !apperrors.IsCancelled(err) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}
