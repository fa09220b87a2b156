package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/factory"
	"wallet-auth-service/internal/handler"
	tlsmgr "wallet-auth-service/internal/tls"
	"wallet-auth-service/internal/util"
)

const sweepInterval = time.Minute

func main() {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	warnings, err := cfg.Validate()
	if err != nil {
		util.Fatal("Invalid configuration", zap.Error(err))
	}
	for _, w := range warnings {
		util.Warn(w)
	}

	f, err := factory.NewFactory(cfg)
	if err != nil {
		util.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer f.Close()

	authHandler := handler.NewAuthHandler(f.Auth)
	router := handler.NewRouter(authHandler, f)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSweeper(rootCtx, f)

	if err := serve(rootCtx, cfg, router); err != nil {
		util.Fatal("Server failed", zap.Error(err))
	}

	util.Info("Server stopped")
}

func serve(ctx context.Context, cfg *config.Config, router http.Handler) error {
	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var tlsServer *http.Server
	if cfg.Server.EnableTLS {
		manager, err := tlsmgr.NewManager(cfg)
		if err != nil {
			return err
		}
		tlsConfig, err := manager.TLSConfig()
		if err != nil {
			return err
		}

		tlsServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort),
			Handler:      router,
			TLSConfig:    tlsConfig,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
		httpServer.Handler = manager.HTTPHandler(router)

		go func() {
			util.Info("HTTPS server listening", zap.String("addr", tlsServer.Addr))
			if err := tlsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	go func() {
		util.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	util.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if tlsServer != nil {
		_ = tlsServer.Shutdown(shutdownCtx)
	}
	return httpServer.Shutdown(shutdownCtx)
}

// runSweeper purges expired OTP sessions off the request hot path.
func runSweeper(ctx context.Context, f *factory.Factory) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := f.Auth.SweepExpired(sweepCtx); err != nil {
				util.Error("Expired session sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}
