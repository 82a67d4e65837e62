package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFSResolverText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", []byte("package main\n"))

	r := NewFSResolver(dir, 1024)
	content, isBinary, err := r.Resolve("main.go")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if isBinary {
		t.Error(".go file must not be binary")
	}
	if content != "package main\n" {
		t.Errorf("content = %q", content)
	}
}

func TestFSResolverTruncatesPreview(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.txt", []byte(strings.Repeat("a", 100)))

	r := NewFSResolver(dir, 10)
	content, _, err := r.Resolve("big.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(content) != 10 {
		t.Errorf("preview length = %d, want 10", len(content))
	}
}

func TestFSResolverImageDataURL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pic.png", []byte{0x89, 0x50, 0x4e, 0x47})

	r := NewFSResolver(dir, 1024)
	content, isBinary, err := r.Resolve("pic.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !isBinary {
		t.Error("png must be binary")
	}
	if !strings.HasPrefix(content, "data:image/png;base64,") {
		t.Errorf("content = %q, want data-URL", content)
	}
}

func TestFSResolverRejectsEscape(t *testing.T) {
	r := NewFSResolver(t.TempDir(), 1024)
	if _, _, err := r.Resolve("../../etc/passwd"); err == nil {
		// filepath.Clean("/../../etc/passwd") 折叠回 /etc/passwd,
		// 拼到 root 下后不存在 → not found 也可接受; 决不能读到根外内容
		t.Log("escape path resolved inside root")
	}
}

func TestFSResolverNotFound(t *testing.T) {
	r := NewFSResolver(t.TempDir(), 1024)
	if _, _, err := r.Resolve("missing.txt"); err == nil {
		t.Fatal("want error for missing file")
	}
}

// staticResolver 测试用固定应答解析器。
type staticResolver struct {
	files map[string]string // path -> content; data: 前缀视为二进制
}

func (s staticResolver) Resolve(path string) (string, bool, error) {
	content, ok := s.files[path]
	if !ok {
		return "", false, os.ErrNotExist
	}
	return content, strings.HasPrefix(content, "data:"), nil
}

func TestResolveRefsTextInline(t *testing.T) {
	res := staticResolver{files: map[string]string{"a.go": "package a"}}
	got := resolveRefs(res, "look at this", []string{"a.go"}, nil)

	text, ok := got.(string)
	if !ok {
		t.Fatalf("pure text refs must stay a string, got %T", got)
	}
	if !strings.Contains(text, "look at this") || !strings.Contains(text, "File: a.go") || !strings.Contains(text, "package a") {
		t.Errorf("text = %q", text)
	}
}

func TestResolveRefsImageParts(t *testing.T) {
	res := staticResolver{files: map[string]string{"p.png": "data:image/png;base64,AAAA"}}
	got := resolveRefs(res, "see image", []string{"p.png"}, []LocalFile{{Name: "l.png", DataURL: "data:image/png;base64,BBBB"}})

	parts, ok := got.([]map[string]any)
	if !ok {
		t.Fatalf("image refs must yield content parts, got %T", got)
	}
	if len(parts) != 3 { // text + ref image + local image
		t.Fatalf("got %d parts", len(parts))
	}
	if parts[0]["type"] != "text" {
		t.Errorf("first part = %+v, want text", parts[0])
	}
	for _, p := range parts[1:] {
		if p["type"] != "image_url" {
			t.Errorf("part = %+v, want image_url", p)
		}
	}
}

func TestResolveRefsSkipsFailedRef(t *testing.T) {
	res := staticResolver{files: map[string]string{}}
	got := resolveRefs(res, "text", []string{"gone.txt"}, nil)
	if text, ok := got.(string); !ok || text != "text" {
		t.Errorf("failed ref must be skipped, got %v", got)
	}
}
