// Command weather-server is a demo MCP tool server speaking over stdio.
package main

import (
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

const version = "1.0.0"

func main() {
	// stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("weather server starting", "version", version)

	if err := server.ServeStdio(newServer()); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
