package paths

import (
	"os"
	"path/filepath"
	"testing"
)

// TestResolve 测试路径解析
func TestResolve(t *testing.T) {
	if got := Resolve("/var/lib/app", "leads.db"); got != filepath.Join("/var/lib/app", "leads.db") {
		t.Errorf("got %q", got)
	}
	if got := Resolve("/var/lib/app", "/tmp/leads.db"); got != "/tmp/leads.db" {
		t.Errorf("绝对路径应原样返回, got %q", got)
	}
	if got := Resolve("", ""); got != "" {
		t.Errorf("空路径应原样返回, got %q", got)
	}
}

// TestEnsureDir 测试目录创建
func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	got, err := EnsureDir(dir)
	if err != nil || got != dir {
		t.Fatalf("got %q %v", got, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("目录未创建: %v", err)
	}
}
