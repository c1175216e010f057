package logger

import (
	"bytes"
	"strings"
	"testing"
)

// TestLevelFilter 测试全局级别过滤
func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetColor(false)
	SetGlobalLevel(WARN)
	t.Cleanup(func() {
		SetGlobalLevel(INFO)
		SetColor(true)
	})

	l := New("Test")
	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO 日志不应输出: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "Test: shown 2") {
		t.Errorf("WARN 日志格式不正确: %q", out)
	}
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
