// ABOUTME: Entry point for coven-chat, a terminal client for the chat backend
// ABOUTME: Builds the cobra command tree and the shared client, config and logger

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

// app is the state shared by every subcommand. It is filled in before any
// subcommand runs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *api.Client
	out    io.Writer

	// sessionCleared skips persisting the jar after logout
	sessionCleared bool
}

type rootOptions struct {
	configPath string
	server     string
	logLevel   string
	noColor    bool
}

func (a *app) configure(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return err
	}
	if opts.server != "" {
		cfg.Server.BaseURL = opts.server
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if opts.noColor {
		color.NoColor = true
	}

	base, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing server url: %w", err)
	}
	jar, err := auth.LoadJar(cfg.Session.File, base)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
	client, err := api.New(api.Options{
		BaseURL:        cfg.Server.BaseURL,
		Jar:            jar,
		RequestTimeout: cfg.Server.RequestTimeout,
		AccessCookie:   cfg.Session.CookieName,
		CSRFCookie:     cfg.Session.CSRFCookieName,
		CSRFHeader:     cfg.Session.CSRFHeader,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.client = client
	a.out = cmd.OutOrStdout()
	a.sessionCleared = false
	return nil
}

// saveSession persists the cookie jar so the next invocation stays signed in.
func (a *app) saveSession() error {
	if a.client == nil || a.sessionCleared {
		return nil
	}
	return auth.SaveJar(a.cfg.Session.File, a.client.Jar(), a.client.BaseURL())
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:           "coven-chat",
		Short:         "Terminal client for the chat backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd, opts)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.saveSession()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/coven-chat/config.yaml)")
	flags.StringVarP(&opts.server, "server", "s", "", "backend base URL, overrides the config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	root.AddCommand(
		newChatCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newRegisterCmd(a),
		newWhoamiCmd(a),
		newConversationsCmd(a),
		newAdminCmd(a),
		newTurnsCmd(a),
	)
	return root
}

func main() {
	// SIGINT is left to the chat command, which uses it to stop a reply
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
