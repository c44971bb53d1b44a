// Package main provides the entry point for the MCP server. It wires
// together configuration, OAuth, the protocol engine, the tool/resource/
// prompt registries, session tracking, and a transport chosen at runtime,
// then manages the server lifecycle with graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcpcore/go-mcp/internal/config"
	"github.com/mcpcore/go-mcp/internal/oauth"
	"github.com/mcpcore/go-mcp/internal/protocol"
	"github.com/mcpcore/go-mcp/internal/registry"
	"github.com/mcpcore/go-mcp/internal/session"
	"github.com/mcpcore/go-mcp/internal/transport"
	"github.com/mcpcore/go-mcp/internal/transport/stdio"
	"github.com/mcpcore/go-mcp/internal/transport/streamhttp"
	"github.com/mcpcore/go-mcp/internal/transport/ws"
)

const (
	serverName    = "go-mcp"
	serverVersion = "1.0.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	slog.Info("server configuration loaded",
		"addr", cfg.Addr,
		"base_url", cfg.BaseURL,
		"transport", cfg.TransportMode,
	)

	oauthCfg := &oauth.Config{
		BaseURL:              cfg.BaseURL,
		AuthorizationServers: cfg.AuthorizationServers,
		Audience:             cfg.Audience,
		ScopesSupported:      cfg.ScopesSupported,
		JWKSCacheTTL:         cfg.JWKSCacheTTL,
		ClockSkew:            cfg.ClockSkew,
	}
	tokenValidator, metadataService, scopeChecker, jwksClient := oauth.NewOAuthServices(oauthCfg)
	_ = scopeChecker
	_ = jwksClient

	slog.Info("oauth services initialized", "jwks_cache_ttl", cfg.JWKSCacheTTL, "clock_skew", cfg.ClockSkew)

	mcpTransport, httpHandler, pattern, err := newMCPTransport(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create %s transport: %v", cfg.TransportMode, err)
	}

	endpoint := protocol.New(mcpTransport, logger)
	endpoint.SetDebounceDelay(cfg.NotificationDebounce)

	tools := registry.NewToolRegistry(func() {
		endpoint.NotifyDebounced("notifications/tools/list_changed", func() any { return struct{}{} })
	})
	resources := registry.NewResourceRegistry(func() {
		endpoint.NotifyDebounced("notifications/resources/list_changed", func() any { return struct{}{} })
	})
	prompts := registry.NewPromptRegistry(func() {
		endpoint.NotifyDebounced("notifications/prompts/list_changed", func() any { return struct{}{} })
	})

	subs := registry.NewSubscriptions(func(sessionID, uri string) {
		ctx := context.Background()
		if sessionID != "" {
			ctx = transport.ContextWithSessionID(ctx, sessionID)
		}
		params := struct {
			URI string `json:"uri"`
		}{URI: uri}
		if err := endpoint.Notify(ctx, "notifications/resources/updated", params); err != nil {
			slog.Warn("failed to notify resource update", "uri", uri, "session", sessionID, "error", err)
		}
	})

	completion := registry.NewCompletionService(prompts, resources)

	sessions := session.NewManager(func(sessionID string) {
		subs.RemoveSession(sessionID)
	})

	dispatcher := registry.NewDispatcher(endpoint, tools, resources, prompts, subs, completion,
		registry.Implementation{Name: serverName, Version: serverVersion}, sessions)
	if err := dispatcher.Register(); err != nil {
		log.Fatalf("failed to register mcp handlers: %v", err)
	}

	slog.Info("mcp services initialized", "server_name", serverName, "server_version", serverVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TransportMode == "stdio" {
		runStdio(ctx, endpoint)
		return
	}
	runHTTP(ctx, cfg, endpoint, tokenValidator, metadataService, httpHandler, pattern)
}

// newMCPTransport builds the transport named by cfg.TransportMode, along
// with (for the two HTTP-hosted modes) the http.Handler and ServeMux
// pattern it should be mounted on. For "stdio" httpHandler is nil.
func newMCPTransport(cfg *config.Config, logger *slog.Logger) (transport.MCPTransport, http.Handler, string, error) {
	switch cfg.TransportMode {
	case "stdio":
		t := stdio.New(os.Stdin, os.Stdout, cfg.MaxMessageSize, logger)
		return t, nil, "", nil
	case "http":
		t := streamhttp.New(streamhttp.Config{
			MaxBodyBytes:     cfg.MaxMessageSize,
			AllowedHosts:     cfg.AllowedHosts,
			AllowedOrigins:   cfg.AllowedOrigins,
			ProtocolVersions: registry.SupportedProtocolVersions,
			Logger:           logger,
		})
		return t, t, "/mcp", nil
	case "ws":
		t := ws.New(ws.Config{
			MaxMessageSize:    int64(cfg.MaxMessageSize),
			HeartbeatInterval: cfg.HeartbeatInterval,
			MaxConnections:    cfg.MaxWebSocketConnections,
			AllowedOrigins:    cfg.AllowedOrigins,
			Logger:            logger,
		})
		return t, t, "/ws", nil
	default:
		return nil, nil, "", fmt.Errorf("unknown transport mode %q", cfg.TransportMode)
	}
}

// runStdio connects the stdio transport and blocks until the process is
// signalled to stop, then closes the endpoint.
func runStdio(ctx context.Context, endpoint *protocol.Endpoint) {
	if err := endpoint.Connect(ctx); err != nil {
		log.Fatalf("failed to start stdio transport: %v", err)
	}
	slog.Info("stdio transport connected")

	<-ctx.Done()
	slog.Info("shutdown signal received, closing stdio transport...")
	if err := endpoint.Close(); err != nil {
		slog.Error("error closing endpoint", "error", err)
	}
	slog.Info("server stopped successfully")
}

// runHTTP wires the chosen HTTP-hosted transport (Streamable-HTTP or
// WebSocket) behind OAuth auth and the metadata/health endpoints,
// then runs the server with graceful shutdown.
func runHTTP(ctx context.Context, cfg *config.Config, endpoint *protocol.Endpoint, tokenValidator oauth.TokenValidator, metadataService oauth.MetadataService, mcpHandler http.Handler, pattern string) {
	if err := endpoint.Connect(ctx); err != nil {
		log.Fatalf("failed to start %s transport: %v", cfg.TransportMode, err)
	}

	transportCfg := &transport.Config{
		ServerConfig:    cfg,
		OAuthValidator:  tokenValidator,
		MetadataService: metadataService,
		MCPEndpoint:     mcpHandler,
		MCPPattern:      pattern,
	}

	server, router, err := transport.NewTransportServices(transportCfg)
	if err != nil {
		log.Fatalf("failed to create transport services: %v", err)
	}
	_ = router

	slog.Info("transport services initialized", "metadata_url", metadataService.GetMetadataURL(), "pattern", pattern)

	serverErrCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Addr)
		if err := server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping server gracefully...")
	case err := <-serverErrCh:
		slog.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped successfully")
}
