package toolserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/server"

	"mcpchat/internal/domain"
)

// InProcessDialer serves every connect from srv without spawning a process.
// Useful for embedding a server and in tests.
func InProcessDialer(srv *server.MCPServer) Dialer {
	return func(ctx context.Context, cfg domain.ServerConfig) (Client, error) {
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("start in-process client: %w", err)
		}
		return c, nil
	}
}
