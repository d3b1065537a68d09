// Package mcp provides an MCP (Model Context Protocol) server over the beacon
// memory layer, so assistant sessions can recall the user's synced memories.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/beaconhq/beacon/pkg/sync"
	"github.com/beaconhq/beacon/pkg/utils"
)

type Config struct {
	// Engine serves memory recall.
	Engine *sync.Engine

	// Noop for an empty MCP server with no tools configured.
	Noop bool
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory recall tool.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "beacon",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Engine == nil {
		return nil, errors.New("sync engine is required")
	}

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        memoryRecallToolName,
		Description: memoryRecallDescription,
	}, s.handleMemoryRecall)

	s.mcpServer = mcpServer

	// Stateless streamable HTTP handler; sessions carry no server state.
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
