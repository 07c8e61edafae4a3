// ABOUTME: Account subcommands: login, logout, register and whoami
// ABOUTME: Credentials come from flags, the environment or an interactive prompt

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/auth"
)

// EnvPassword supplies the password for non-interactive login and register.
const EnvPassword = "COVEN_CHAT_PASSWORD"

type credentialOptions struct {
	email    string
	password string
}

func (o *credentialOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&o.password, "password", "p", "", "account password (or "+EnvPassword+")")
}

// resolve fills in missing credentials from the environment or a prompt.
func (o *credentialOptions) resolve() (string, string, error) {
	email, password := strings.TrimSpace(o.email), o.password
	if password == "" {
		password = os.Getenv(EnvPassword)
	}
	if email != "" && password != "" {
		return email, password, nil
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	var err error
	if email == "" {
		if email, err = line.Prompt("Email: "); err != nil {
			return "", "", promptError(err)
		}
	}
	if password == "" {
		if password, err = line.PasswordPrompt("Password: "); err != nil {
			return "", "", promptError(err)
		}
	}
	return strings.TrimSpace(email), password, nil
}

func promptError(err error) error {
	if errors.Is(err, liner.ErrPromptAborted) {
		return errors.New("aborted")
	}
	if errors.Is(err, liner.ErrNotTerminalOutput) {
		return fmt.Errorf("no terminal for prompting; pass --email and --password or set %s", EnvPassword)
	}
	return err
}

func newLoginCmd(a *app) *cobra.Command {
	var opts credentialOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, password, err := opts.resolve()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.client.Login(ctx, email, password); err != nil {
				return err
			}
			me, err := a.client.Me(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", me.Email, me.Role)
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				a.logger.Warn("server logout failed; clearing local session anyway", "error", err)
			}
			if err := auth.ClearSession(a.cfg.Session.File); err != nil {
				return err
			}
			a.sessionCleared = true
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	var opts credentialOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account that an admin must approve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, password, err := opts.resolve()
			if err != nil {
				return err
			}
			reg, err := a.client.Register(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s: %s (%s)\n", email, reg.Status, reg.Message)
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			me, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s (id %s, role %s, status %s)\n", me.Email, me.ID, me.Role, me.Status)

			claims, err := auth.SessionClaims(a.client.Jar(), a.client.BaseURL(), a.cfg.Session.CookieName)
			if err == nil && !claims.ExpiresAt.IsZero() {
				fmt.Fprintf(a.out, "Session expires %s\n", claims.ExpiresAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}
