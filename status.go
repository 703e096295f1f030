package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/auth"
	"github.com/fieldverify/fieldsync/internal/model"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	DataDir string        `json:"data_dir"`
	BaseURL string        `json:"base_url"`
	Account statusAccount `json:"account"`
	Cases   statusCases   `json:"cases"`
	Daemon  statusDaemon  `json:"daemon"`
}

type statusAccount struct {
	TokenState  string     `json:"token_state"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	Email       string     `json:"email,omitempty"`
	Name        string     `json:"name,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
}

type statusCases struct {
	ByStatus      map[model.Status]int `json:"by_status"`
	Images        int                  `json:"images"`
	PendingImages int                  `json:"pending_images"`
	MissingFiles  int                  `json:"missing_files"`
	ImageBytes    int64                `json:"image_bytes"`
}

type statusDaemon struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state, local cases, and whether sync is running",
		Long: `Display the logged-in account and token state, the number of local cases in
each state, the disk space their photos use, and whether a sync is running.
Works offline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				out := statusOutput{
					DataDir: cc.Cfg.DataDir,
					BaseURL: cc.Cfg.BaseURL,
				}

				out.Account = accountStatus(a, time.Now())

				if out.Account.TokenState != tokenStateMissing {
					user, err := a.session.User(ctx)
					if err != nil && !errors.Is(err, auth.ErrNotLoggedIn) {
						return err
					}

					if user != nil {
						out.Account.Email = user.Email
						out.Account.Name = user.Name
						out.Account.UserID = user.ID
					}
				}

				stats, err := a.repo.Stats(ctx)
				if err != nil {
					return err
				}

				out.Cases = statusCases(stats)

				if pid := runningPID(cc.Cfg.PIDPath()); pid != 0 {
					out.Daemon = statusDaemon{Running: true, PID: pid}
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, out)
				}

				printStatusText(cc, out)

				return nil
			})
		},
	}
}

func accountStatus(a *app, now time.Time) statusAccount {
	tok, err := a.session.Token()
	if err != nil || tok == nil {
		return statusAccount{TokenState: tokenStateMissing}
	}

	st := statusAccount{TokenState: tokenStateValid}

	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		st.TokenExpiry = &exp

		if now.After(exp) {
			st.TokenState = tokenStateExpired
		}
	}

	return st
}

func printStatusText(cc *CLIContext, out statusOutput) {
	w := cc.Out

	fmt.Fprintf(w, "Data dir: %s\n", out.DataDir)
	fmt.Fprintf(w, "Backend:  %s\n\n", out.BaseURL)

	switch out.Account.TokenState {
	case tokenStateMissing:
		fmt.Fprintln(w, "Account:  not logged in")
	default:
		label := out.Account.Email
		if label == "" {
			label = "user " + out.Account.UserID
		}

		fmt.Fprintf(w, "Account:  %s (token %s", label, out.Account.TokenState)

		if out.Account.TokenExpiry != nil {
			fmt.Fprintf(w, ", expires %s", formatTime(*out.Account.TokenExpiry))
		}

		fmt.Fprintln(w, ")")
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(model.Statuses))
	for _, s := range model.Statuses {
		rows = append(rows, []string{string(s), fmt.Sprint(out.Cases.ByStatus[s])})
	}

	printTable(w, []string{"STATE", "CASES"}, rows)

	fmt.Fprintf(w, "\nPhotos:   %d (%d not uploaded), %s\n",
		out.Cases.Images, out.Cases.PendingImages, formatSize(out.Cases.ImageBytes))

	if out.Cases.MissingFiles > 0 {
		fmt.Fprintf(w, "Warning:  %d photo files are missing on disk\n", out.Cases.MissingFiles)
	}

	if out.Daemon.Running {
		fmt.Fprintf(w, "Sync:     running (PID %d)\n", out.Daemon.PID)
	} else {
		fmt.Fprintln(w, "Sync:     not running")
	}
}
