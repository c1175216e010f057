package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("BIZASSIST_DATA_DIR", t.TempDir())
	t.Setenv("BIZASSIST_CRM_BACKEND", "memory")
	t.Setenv("BIZASSIST_SESSION_BACKEND", "memory")
	t.Setenv("BIZASSIST_AI_PROVIDER", "none")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v 执行失败: %v", args, err)
	}
	return out.String()
}

// TestIngestCommand 测试 ingest 命令
func TestIngestCommand(t *testing.T) {
	out := runCLI(t, "ingest")
	if !strings.Contains(out, "built-in knowledge base") || !strings.Contains(out, "documents") {
		t.Errorf("输出: %s", out)
	}
}

// TestSearchCommand 测试 search 命令
func TestSearchCommand(t *testing.T) {
	out := runCLI(t, "search", "what", "services", "do", "you", "offer")
	if !strings.Contains(out, "[1] Services We Offer") {
		t.Errorf("输出: %s", out)
	}
}

// TestLeadsStatsCommand 测试 leads stats 命令
func TestLeadsStatsCommand(t *testing.T) {
	out := runCLI(t, "leads", "stats")
	if !strings.Contains(out, "Total: 0") || !strings.Contains(out, "Qualified") {
		t.Errorf("输出: %s", out)
	}
}
