package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/run-bigpig/bizassist/internal/app"
	"github.com/run-bigpig/bizassist/internal/config"
	"github.com/run-bigpig/bizassist/internal/logger"
)

var log = logger.New("CLI")

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bizassist",
	Short: "Conversational business assistant",
	Long: `bizassist answers questions from the company knowledge base, books
consultations within business hours and records qualified leads.

Configuration is read from bizassist.yaml, .env and BIZASSIST_* variables.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute 执行命令，收到 SIGINT/SIGTERM 时取消 context
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if logLevel != "" {
		logger.SetGlobalLevel(logger.ParseLevel(logLevel))
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	cfg = loaded
	return nil
}

// newApp 创建应用并加载知识库，每个应用使用独立的指标注册表
func newApp(ctx context.Context, ingest bool) (*app.App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a, err := app.New(ctx, cfg, app.Options{Registerer: reg})
	if err != nil {
		return nil, err
	}
	if !ingest {
		return a, nil
	}
	stats, err := a.Ingest(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	log.Info("knowledge base ready: %d documents, %d chunks", stats.Documents, stats.Chunks)
	return a, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./bizassist.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(leadsCmd)
	rootCmd.AddCommand(mcpCmd)
}
