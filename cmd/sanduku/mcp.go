package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/gateway/mcpserver"
)

var (
	mcpConfigPath string
	mcpRoot       string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tool set over the Model Context Protocol on stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	mcpCmd.Flags().StringVar(&mcpRoot, "root", "", "override the sandbox root directory")
}

// runMCP starts sanduku as an MCP stdio server. Stdout carries the
// protocol stream; all logging goes to stderr.
func runMCP(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(mcpConfigPath, mcpRoot)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(sc.Registry, version, logger)
	err = srv.ServeStdio(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc.Streams.CloseAll()
	sc.Obs.Shutdown(shutdownCtx)
	return err
}
