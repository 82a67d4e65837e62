package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// defaultLogger 并发读写不应产生 data race (go test -race)。
func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", "key", "value")
			_ = Get()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
}

// TestGetReturnsCurrentLogger 验证 Get() 返回最新的 logger。
func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
}

func TestInitWithFile(t *testing.T) {
	dir := t.TempDir()
	if err := InitWithFile(dir); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}
	defer ShutdownFileHandler()

	Info("file log message", FieldConversationID, "c1")
}

func TestSetLevel(t *testing.T) {
	Init("production")
	defer SetLevel("info")

	ctx := context.Background()
	cases := []struct {
		level   string
		debugOn bool
		warnOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"bogus", false, true}, // 未识别回落到 info
	}
	for _, tc := range cases {
		SetLevel(tc.level)
		if got := Get().Enabled(ctx, slog.LevelDebug); got != tc.debugOn {
			t.Errorf("level %q: debug enabled = %v, want %v", tc.level, got, tc.debugOn)
		}
		if got := Get().Enabled(ctx, slog.LevelWarn); got != tc.warnOn {
			t.Errorf("level %q: warn enabled = %v, want %v", tc.level, got, tc.warnOn)
		}
	}
}

func TestFromContextFallback(t *testing.T) {
	Init("production")
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext fallback returned nil")
	}
}
