// ABOUTME: Runs the in-memory fake chat backend as a standalone HTTP server
// ABOUTME: Usage: fake-backend [--addr :8000] [--admin-email ...] [--user email:password]

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/fakebackend"
)

type options struct {
	addr          string
	adminEmail    string
	adminPassword string
	users         []string
	tokenDelay    time.Duration
	tokenTTL      time.Duration
	logLevel      string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "fake-backend",
		Short:         "In-memory chat backend for local development and end-to-end tests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "localhost:8000", "listen address")
	flags.StringVar(&opts.adminEmail, "admin-email", "admin@example.local", "seeded admin account")
	flags.StringVar(&opts.adminPassword, "admin-password", "admin", "seeded admin password")
	flags.StringArrayVar(&opts.users, "user", nil, "seed an approved user as email:password (repeatable)")
	flags.DurationVar(&opts.tokenDelay, "token-delay", 50*time.Millisecond, "delay between streamed tokens")
	flags.DurationVar(&opts.tokenTTL, "token-ttl", fakebackend.DefaultTokenTTL, "session lifetime")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, opts options) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", opts.logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	gin.SetMode(gin.ReleaseMode)
	srv, err := fakebackend.New(fakebackend.Options{
		TokenTTL:      opts.tokenTTL,
		TokenDelay:    opts.tokenDelay,
		AdminEmail:    opts.adminEmail,
		AdminPassword: opts.adminPassword,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	for _, entry := range opts.users {
		email, password, ok := strings.Cut(entry, ":")
		if !ok || email == "" || password == "" {
			return fmt.Errorf("--user %q must be email:password", entry)
		}
		if _, err := srv.AddUser(email, password, fakebackend.RoleUser, api.StatusApproved); err != nil {
			return fmt.Errorf("seeding %s: %w", email, err)
		}
	}

	listener, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", opts.addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end when shutdown begins
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("fake backend listening", "addr", listener.Addr().String(), "admin", opts.adminEmail)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// the parent context is already done; give open streams a fresh deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
