package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/ent0n29/nova/internal/app"
	"github.com/ent0n29/nova/internal/auth"
	"github.com/ent0n29/nova/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	built, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup error: %v", err)
		}
	}()

	if err := ensureCredential(built.Authenticator, cfg); err != nil {
		log.Fatalf("credential setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, 5*time.Second)
	built.Summarizer.Start(runCtx, cfg.SummarizeInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// ensureCredential performs first-run setup of the secret phrase. An
// unconfigured credential is not fatal; the service then only ever
// grants guest access.
func ensureCredential(authn *auth.Authenticator, cfg config.Config) error {
	if authn.Configured() {
		log.Printf("credential configured, creator access enabled")
		return nil
	}

	if cfg.SecretPhrase != "" {
		if err := authn.Setup(cfg.SecretPhrase); err != nil {
			return err
		}
		log.Printf("secret phrase configured from environment")
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Printf("no credential configured and stdin is not a terminal, guest access only")
		return nil
	}

	fmt.Print("First run. Choose a secret phrase (leave empty to skip): ")
	phrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read secret phrase: %w", err)
	}
	if strings.TrimSpace(string(phrase)) == "" {
		log.Printf("no secret phrase chosen, guest access only")
		return nil
	}

	fmt.Print("Confirm secret phrase: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if string(phrase) != string(confirm) {
		return errors.New("secret phrases did not match")
	}

	if err := authn.Setup(string(phrase)); err != nil {
		return err
	}
	log.Printf("secret phrase configured")
	return nil
}
