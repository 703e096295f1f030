package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/capture"
	"github.com/fieldverify/fieldsync/internal/form"
	"github.com/fieldverify/fieldsync/internal/model"
)

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "draft",
		Aliases: []string{"drafts"},
		Short:   "Capture and edit cases on this device",
		Long: `Cases are kept in the local database until "fieldsync sync" submits them.
A case is addressed by its local id or its server case id.`,
	}

	cmd.AddCommand(
		newDraftNewCmd(),
		newDraftListCmd(),
		newDraftShowCmd(),
		newDraftFormCmd(),
		newDraftStepCmd(),
		newDraftAddImageCmd(),
		newDraftRmImageCmd(),
		newDraftRmCmd(),
	)

	return cmd
}

func newDraftNewCmd() *cobra.Command {
	var c model.Case

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a case",
		Long: `Start a local case. With --case-id the case is tied to a server case
and the same id is used locally; without it a local id is generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				if c.CaseID == "" {
					c.ID = uuid.NewString()
				}

				c.CurrentStep = form.Steps(form.CaseKind(c.CaseType))[0]

				saved, err := a.repo.SaveMetadata(cmd.Context(), c)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, saved)
				}

				fmt.Fprintln(cc.Out, saved.Key())

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&c.CaseID, "case-id", "", "server case id")
	cmd.Flags().StringVar(&c.ReferenceNumber, "ref", "", "reference number")
	cmd.Flags().StringVar(&c.CaseType, "type", "", "FL type (rv, bv, ...)")
	cmd.Flags().StringVar(&c.Bank, "bank", "", "bank name")

	return cmd
}

func newDraftListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local cases",
		Long:  "List drafts. With --all, list every local case including failed ones.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				var (
					cases []model.Case
					err   error
				)

				if all {
					cases, err = a.repo.ListByStatus(cmd.Context(), model.Statuses...)
				} else {
					cases, err = a.repo.ListDrafts(cmd.Context())
				}

				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					if cases == nil {
						cases = []model.Case{}
					}

					return printJSON(cc.Out, cases)
				}

				if len(cases) == 0 {
					fmt.Fprintln(cc.Out, "No local cases.")
					return nil
				}

				printCaseRows(cc.Out, cases)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include cases in every state")

	return cmd
}

func printCaseRows(w io.Writer, cases []model.Case) {
	headers := []string{"KEY", "CASE ID", "TYPE", "STATUS", "STEP", "UPDATED", "LAST ERROR"}
	rows := make([][]string, 0, len(cases))

	for _, c := range cases {
		rows = append(rows, []string{
			c.Key(),
			orDash(c.CaseID),
			orDash(c.CaseType),
			string(c.Status),
			orDash(c.CurrentStep),
			formatTime(c.UpdatedAt),
			truncate(orDash(c.LastError), 40),
		})
	}

	printTable(w, headers, rows)
}

func newDraftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case>",
		Short: "Show a case with its form data and images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				data, err := a.repo.LoadCase(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if data == nil {
					return fmt.Errorf("case %q not found", args[0])
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, data)
				}

				printCaseData(cc.Out, data)

				return nil
			})
		},
	}
}

func printCaseData(w io.Writer, data *model.CaseData) {
	m := data.Metadata

	fmt.Fprintf(w, "Key:       %s\n", m.Key())
	fmt.Fprintf(w, "Case ID:   %s\n", orDash(m.CaseID))
	fmt.Fprintf(w, "Reference: %s\n", orDash(m.ReferenceNumber))
	fmt.Fprintf(w, "Type:      %s\n", orDash(m.CaseType))
	fmt.Fprintf(w, "Bank:      %s\n", orDash(m.Bank))
	fmt.Fprintf(w, "Status:    %s\n", m.Status)
	fmt.Fprintf(w, "Step:      %s\n", orDash(m.CurrentStep))
	fmt.Fprintf(w, "Updated:   %s\n", formatTime(m.UpdatedAt))

	if m.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", m.LastError)
	}

	if len(data.FormData) == 0 {
		fmt.Fprintln(w, "\nForm: (none)")
	} else {
		fmt.Fprintf(w, "\nForm: %d bytes\n", len(data.FormData))
	}

	if len(data.Images) == 0 {
		fmt.Fprintln(w, "Images: (none)")
		return
	}

	fmt.Fprintln(w, "\nImages:")

	rows := make([][]string, 0, len(data.Images))
	for _, img := range data.Images {
		loc := "-"
		if img.HasCoordinates() {
			loc = fmt.Sprintf("%.5f,%.5f", *img.Latitude, *img.Longitude)
		}

		synced := "no"
		if img.Synced {
			synced = "yes"
		}

		rows = append(rows, []string{
			strconv.FormatInt(img.ID, 10), string(img.Source), loc, synced, img.FilePath,
		})
	}

	printTable(w, []string{"ID", "SOURCE", "LOCATION", "SYNCED", "PATH"}, rows)
}

func newDraftFormCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "form <case> <file|->",
		Short: "Replace a case's form data with a JSON object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readJSONArg(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				data, err := a.repo.LoadCase(ctx, args[0])
				if err != nil {
					return err
				}

				if data == nil {
					return fmt.Errorf("case %q not found", args[0])
				}

				if _, err := form.Parse(raw, data.Metadata.CaseType); err != nil {
					return err
				}

				if err := a.repo.SaveForm(ctx, data.Metadata.Key(), raw); err != nil {
					return err
				}

				cc.Statusf("Form saved for %s.\n", data.Metadata.Key())

				return nil
			})
		},
	}
}

// readJSONArg reads a JSON document from a file, or from r when name is "-".
func readJSONArg(r io.Reader, name string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)

	if name == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(name)
	}

	if err != nil {
		return nil, fmt.Errorf("reading form data: %w", err)
	}

	if !json.Valid(data) {
		return nil, errors.New("form data is not valid JSON")
	}

	return json.RawMessage(data), nil
}

func newDraftStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step <case> [step]",
		Short: "Show the wizard steps or move a case to a step",
		Long: `Without a step, list the wizard steps for the case and mark the current one.
Moving to a step requires every earlier step to be complete. Reaching the last
step marks the case ready to sync and wakes a running "sync --watch".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				data, err := a.repo.LoadCase(ctx, args[0])
				if err != nil {
					return err
				}

				if data == nil {
					return fmt.Errorf("case %q not found", args[0])
				}

				raw := data.FormData
				if len(raw) == 0 {
					raw = json.RawMessage(`{}`)
				}

				payload, err := form.Parse(raw, data.Metadata.CaseType)
				if err != nil {
					return err
				}

				if len(args) == 1 {
					for _, s := range form.Steps(payload.Kind) {
						marker := " "
						if s == data.Metadata.CurrentStep {
							marker = "*"
						}

						fmt.Fprintf(cc.Out, "%s %s\n", marker, s)
					}

					return nil
				}

				step := args[1]

				if !form.HasStep(payload.Kind, step) {
					return fmt.Errorf("%w: %q (steps: %v)", form.ErrUnknownStep, step, form.Steps(payload.Kind))
				}

				if err := payload.CanEnter(step); err != nil {
					return err
				}

				meta := data.Metadata
				meta.CurrentStep = step

				if _, err := a.repo.SaveMetadata(ctx, meta); err != nil {
					return err
				}

				if !form.IsFinalStep(payload.Kind, step) {
					cc.Statusf("%s is at step %s.\n", meta.Key(), step)
					return nil
				}

				if notifyDaemon(cc) {
					cc.Statusf("%s is ready; the running sync will pick it up.\n", meta.Key())
				} else {
					cc.Statusf("%s is ready; run 'fieldsync sync %s' to submit it.\n", meta.Key(), meta.Key())
				}

				return nil
			})
		},
	}
}

type imageFlags struct {
	lat, lng, accuracy float64
	address    string
	source     string
	capturedAt string
}

func newDraftAddImageCmd() *cobra.Command {
	var f imageFlags

	cmd := &cobra.Command{
		Use:   "add-image <case> <photo>",
		Short: "Attach a photo to a case",
		Long: `Copy a photo into the case directory. Location and capture time come from
the photo's JSON sidecar (<photo>.json) when present; flags override it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := capture.ReadSidecar(args[1])
			if err != nil {
				return err
			}

			in, err := sc.ImageInput(args[1])
			if err != nil {
				return err
			}

			if err := f.apply(cmd, &in); err != nil {
				return err
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				info, err := os.Stat(args[1])
				if err != nil {
					return fmt.Errorf("reading photo: %w", err)
				}

				if info.Size() > cc.Cfg.MaxImageBytes {
					return fmt.Errorf("photo is %s, larger than the %s limit",
						formatSize(info.Size()), formatSize(cc.Cfg.MaxImageBytes))
				}

				saved, err := a.repo.SaveImage(cmd.Context(), args[0], in)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, map[string]any{"image_id": saved.ImageID, "file_path": saved.FilePath})
				}

				cc.Statusf("Attached image %d.\n", saved.ImageID)

				if stamp := capture.BuildStampText(in.Latitude, in.Longitude, in.Address, stampTime(in)); stamp != "" {
					cc.Statusf("%s\n", stamp)
				}

				return nil
			})
		},
	}

	fl := cmd.Flags()
	fl.Float64Var(&f.lat, "lat", 0, "latitude")
	fl.Float64Var(&f.lng, "lng", 0, "longitude")
	fl.Float64Var(&f.accuracy, "accuracy", 0, "location accuracy in meters")
	fl.StringVar(&f.address, "address", "", "address at the capture location")
	fl.StringVar(&f.source, "source", "", "camera or gallery")
	fl.StringVar(&f.capturedAt, "captured-at", "", "capture time (RFC 3339)")
	cmd.MarkFlagsRequiredTogether("lat", "lng")

	return cmd
}

// apply overrides sidecar values with explicitly set flags.
func (f *imageFlags) apply(cmd *cobra.Command, in *model.ImageInput) error {
	fl := cmd.Flags()

	if fl.Changed("lat") {
		in.Latitude = &f.lat
		in.Longitude = &f.lng
	}

	if fl.Changed("accuracy") {
		in.Accuracy = &f.accuracy
	}

	if fl.Changed("address") {
		in.Address = f.address
	}

	if fl.Changed("source") {
		src := model.ImageSource(f.source)
		if src != model.SourceCamera && src != model.SourceGallery {
			return fmt.Errorf("invalid --source %q: want camera or gallery", f.source)
		}

		in.Source = src
	}

	if fl.Changed("captured-at") {
		at, err := time.Parse(time.RFC3339, f.capturedAt)
		if err != nil {
			return fmt.Errorf("invalid --captured-at: %w", err)
		}

		at = at.UTC()
		in.CapturedAt = &at
	}

	return nil
}

func stampTime(in model.ImageInput) time.Time {
	if in.CapturedAt != nil {
		return *in.CapturedAt
	}

	return time.Now()
}

func newDraftRmImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm-image <case> <image-id>",
		Short: "Remove a photo from a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid image id %q", args[1])
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				removed, err := a.repo.DeleteImage(cmd.Context(), args[0], id)
				if err != nil {
					return err
				}

				if !removed {
					return fmt.Errorf("case %s has no image %d", args[0], id)
				}

				cc.Statusf("Removed image %d.\n", id)

				return nil
			})
		},
	}
}

func newDraftRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <case>",
		Short: "Delete a local case with its form data and photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				data, err := a.repo.LoadCase(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if data == nil {
					return fmt.Errorf("case %q not found", args[0])
				}

				if err := a.repo.DeleteCase(cmd.Context(), args[0]); err != nil {
					return err
				}

				cc.Statusf("Deleted %s.\n", args[0])

				return nil
			})
		},
	}
}
