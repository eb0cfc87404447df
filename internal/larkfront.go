package internal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soratobu/lark-front/internal/config"
	"github.com/soratobu/lark-front/internal/lark"
	"github.com/soratobu/lark-front/internal/log"
	"github.com/soratobu/lark-front/internal/server"
	"github.com/soratobu/lark-front/internal/session"
)

// LarkFront represents the complete application
type LarkFront struct {
	config     config.Config
	httpServer *server.HTTPServer
}

// NewLarkFront creates the application with all dependencies built
func NewLarkFront(cfg config.Config) (*LarkFront, error) {
	log.LogInfoWithFields("larkfront", "Building application", map[string]any{
		"baseURL": cfg.Server.BaseURL,
		"apiBase": cfg.Lark.APIBaseURL,
	})

	larkClient := lark.NewClient(
		cfg.Lark.AppID,
		string(cfg.Lark.AppSecret),
		cfg.Lark.RedirectURI,
		lark.WithBaseURL(cfg.Lark.APIBaseURL),
		lark.WithTimeout(cfg.Lark.Timeout),
	)

	sessions := session.NewCookieStore()

	authHandlers := server.NewAuthHandlers(larkClient, sessions, cfg.Auth.SkipStateValidation)
	pageHandlers := server.NewPageHandlers(larkClient, sessions, cfg.Lark.AppID)

	router := server.NewRouter(authHandlers, pageHandlers, cfg.Server.AllowedOrigins)
	httpServer := server.NewHTTPServer(router, cfg.Server.Addr)

	return &LarkFront{
		config:     cfg,
		httpServer: httpServer,
	}, nil
}

// Run starts the application and blocks until shutdown
func (l *LarkFront) Run() error {
	log.LogInfoWithFields("larkfront", "Starting application", map[string]any{
		"addr": l.config.Server.Addr,
	})

	// Channel to signal errors that should trigger shutdown
	errChan := make(chan error, 1)

	go func() {
		if err := l.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("larkfront", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("larkfront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := l.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("larkfront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("larkfront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}
