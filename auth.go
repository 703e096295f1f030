package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/api"
	"github.com/fieldverify/fieldsync/internal/auth"
)

func newLoginCmd() *cobra.Command {
	var (
		email    string
		password string
		imeis    []string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to the investigations backend. The password is read from stdin
when --password is not given. Device IMEIs default to the auth.imei list in
the config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				if email == "" {
					return errors.New("--email is required")
				}

				if password == "" {
					pw, err := readSecret(cmd.InOrStdin())
					if err != nil {
						return err
					}

					password = pw
				}

				if len(imeis) == 0 {
					imeis = cc.Cfg.IMEIs
				}

				cc.Logger.Info("login started", slog.String("email", email))

				user, err := a.session.Login(cmd.Context(), email, password, imeis)
				if err != nil {
					return err
				}

				cc.Statusf("Logged in as %s.\n", userLabel(user))

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	cmd.Flags().StringSliceVar(&imeis, "imei", nil, "device IMEI sent with the login (repeatable)")

	return cmd
}

// readSecret reads one line from r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}

	return line, nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove saved credentials",
		Long: `Revoke the token on the server (best effort), then remove the saved
token, the cached profile, and the cached case lists. Local drafts are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				if err := a.session.Logout(cmd.Context(), a.client); err != nil {
					return err
				}

				cc.Statusf("Logged out.\n")

				return nil
			})
		},
	}
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

func newWhoamiCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Display the logged-in agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				if _, err := a.requireUser(ctx); err != nil {
					return err
				}

				if refresh {
					profile, err := a.client.Profile(ctx)
					if err != nil {
						return fmt.Errorf("fetching profile: %w", err)
					}

					if err := a.session.UpdateProfile(ctx, profile); err != nil {
						return err
					}
				}

				user, err := a.requireUser(ctx)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, whoamiOutput{
						ID:      user.ID,
						Email:   user.Email,
						Name:    user.Name,
						Profile: user.Profile,
					})
				}

				fmt.Fprintf(cc.Out, "User:  %s\n", orDash(user.Name))
				fmt.Fprintf(cc.Out, "Email: %s\n", orDash(user.Email))
				fmt.Fprintf(cc.Out, "ID:    %s\n", user.ID)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the profile from the server first")

	return cmd
}

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the agent profile",
	}

	cmd.AddCommand(newProfileUpdateCmd())

	return cmd
}

func newProfileUpdateCmd() *cobra.Command {
	var firstName, lastName, mobile string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields on the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var upd api.UserUpdate

			if cmd.Flags().Changed("first-name") {
				upd.FirstName = &firstName
			}

			if cmd.Flags().Changed("last-name") {
				upd.LastName = &lastName
			}

			if cmd.Flags().Changed("mobile") {
				upd.MobileNumber = &mobile
			}

			if upd.FirstName == nil && upd.LastName == nil && upd.MobileNumber == nil {
				return errors.New("nothing to update; pass --first-name, --last-name or --mobile")
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				user, err := a.requireUser(ctx)
				if err != nil {
					return err
				}

				profile, err := a.client.UpdateUser(ctx, user.ID, upd)
				if err != nil {
					return fmt.Errorf("updating profile: %w", err)
				}

				if err := a.session.UpdateProfile(ctx, profile); err != nil {
					return err
				}

				cc.Statusf("Profile updated.\n")

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&mobile, "mobile", "", "mobile number")

	return cmd
}

func userLabel(u *auth.User) string {
	switch {
	case u.Name != "" && u.Email != "":
		return fmt.Sprintf("%s (%s)", u.Name, u.Email)
	case u.Email != "":
		return u.Email
	case u.Name != "":
		return u.Name
	default:
		return "user " + u.ID
	}
}
