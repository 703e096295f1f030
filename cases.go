package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/api"
	"github.com/fieldverify/fieldsync/internal/casecache"
)

const dateLayout = "2006-01-02"

// casesOutput is the JSON schema for `cases --json` and `completed --json`.
type casesOutput struct {
	Source    string              `json:"source"`
	FetchedAt time.Time           `json:"fetched_at"`
	Cases     []casecache.Summary `json:"cases"`
}

func newCasesCmd() *cobra.Command {
	var (
		bank    string
		kind    string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List assigned cases",
		Long: `Fetch the cases assigned to the logged-in agent and cache them. When the
backend cannot be reached, or with --offline, the cached list is shown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				user, err := a.requireUser(ctx)
				if err != nil {
					return err
				}

				out := casesOutput{Source: "server", FetchedAt: time.Now()}

				var items []json.RawMessage

				if !offline {
					list, ferr := a.client.EmployeeCases(ctx, api.CaseQuery{UserID: user.ID, Bank: bank, Type: kind})
					if ferr == nil {
						items = list.Cases

						if _, err := a.cache.SaveAssigned(ctx, items); err != nil {
							return err
						}
					} else {
						if !canFallBack(ferr) {
							return fmt.Errorf("fetching cases: %w", ferr)
						}

						cc.Logger.Warn("fetching cases failed, showing cached list",
							slog.String("error", ferr.Error()))
						err = ferr
					}
				}

				if offline || err != nil {
					cached, lerr := a.cache.LoadAssigned(ctx)
					if lerr != nil {
						return lerr
					}

					if cached == nil {
						if err != nil {
							return fmt.Errorf("fetching cases: %w", err)
						}

						return errors.New("no cached case list; run 'fieldsync cases' while online")
					}

					items = cached.Items
					out.Source = "cache"
					out.FetchedAt = cached.FetchedAt
				}

				for _, item := range casecache.Flatten(items) {
					out.Cases = append(out.Cases, casecache.Summarize(item, ""))
				}

				return printCases(cc, out)
			})
		},
	}

	cmd.Flags().StringVar(&bank, "bank", "", "only cases for this bank")
	cmd.Flags().StringVar(&kind, "type", "", "only cases of this type")
	cmd.Flags().BoolVar(&offline, "offline", false, "show the cached list without contacting the server")

	return cmd
}

func newCompletedCmd() *cobra.Command {
	var (
		date    string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "completed",
		Short: "List completed cases",
		Long: `Fetch the agent's completed cases, all of them or for one --date
(YYYY-MM-DD). Each date is cached separately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date != "" {
				if _, err := time.Parse(dateLayout, date); err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				user, err := a.requireUser(ctx)
				if err != nil {
					return err
				}

				out := casesOutput{Source: "server", FetchedAt: time.Now()}

				var items []json.RawMessage

				if !offline {
					list, ferr := a.client.CompletedCases(ctx, user.ID, date)
					if ferr == nil {
						items = list.Cases

						if err := a.cache.SaveCompleted(ctx, date, items); err != nil {
							return err
						}
					} else {
						if !canFallBack(ferr) {
							return fmt.Errorf("fetching completed cases: %w", ferr)
						}

						cc.Logger.Warn("fetching completed cases failed, showing cached list",
							slog.String("error", ferr.Error()))
						err = ferr
					}
				}

				if offline || err != nil {
					cached, fetchedAt, ok, lerr := a.cache.LoadCompleted(ctx, date)
					if lerr != nil {
						return lerr
					}

					if !ok {
						if err != nil {
							return fmt.Errorf("fetching completed cases: %w", err)
						}

						return errors.New("no cached completed list for this date")
					}

					items = cached
					out.Source = "cache"
					out.FetchedAt = fetchedAt
				}

				for _, item := range casecache.Flatten(items) {
					out.Cases = append(out.Cases, casecache.Summarize(item, "Completed"))
				}

				return printCases(cc, out)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "only cases completed on this day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&offline, "offline", false, "show the cached list without contacting the server")

	return cmd
}

// canFallBack reports whether a listing error should fall back to the
// cache. Authentication failures are reported as they are.
func canFallBack(err error) bool {
	return !errors.Is(err, api.ErrUnauthorized) && !errors.Is(err, api.ErrMissingUserID)
}

func printCases(cc *CLIContext, out casesOutput) error {
	if out.Cases == nil {
		out.Cases = []casecache.Summary{}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	if out.Source == "cache" {
		cc.Statusf("Showing cached list from %s.\n", formatTime(out.FetchedAt))
	}

	if len(out.Cases) == 0 {
		fmt.Fprintln(cc.Out, "No cases.")
		return nil
	}

	printSummaries(cc.Out, out.Cases)

	return nil
}

func printSummaries(w io.Writer, cases []casecache.Summary) {
	headers := []string{"ID", "TYPE", "STATUS", "APPLICANT", "BANK/PRODUCT", "ADDRESS", "DATE"}
	rows := make([][]string, 0, len(cases))

	for _, s := range cases {
		rows = append(rows, []string{
			orDash(s.ID),
			s.FLType,
			orDash(s.Status),
			truncate(orDash(s.Applicant), 24),
			truncate(s.Title, 28),
			truncate(s.Address, 36),
			orDash(s.Submitted),
		})
	}

	printTable(w, headers, rows)
}
