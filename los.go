package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/api"
)

func newLOSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "los",
		Short: "Record loan-origination (LOS) details",
		Long: `Submit and look up loan-origination records captured in the field. These
calls go straight to the backend and are not queued offline.`,
	}

	cmd.AddCommand(newLOSAddCmd(), newLOSUploadCmd(), newLOSDetailsCmd())

	return cmd
}

func newLOSAddCmd() *cobra.Command {
	var d api.LOSDetails

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit a loan-origination record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if d.LOSNo == "" {
				return errors.New("--los-no is required")
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				if _, err := a.requireUser(cmd.Context()); err != nil {
					return err
				}

				resp, err := a.client.AddLOSDetails(cmd.Context(), d)
				if err != nil {
					return fmt.Errorf("submitting LOS details: %w", err)
				}

				return printLOSReply(cc, resp, "LOS record "+d.LOSNo+" submitted.")
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&d.LOSNo, "los-no", "", "LOS number")
	fl.StringVar(&d.BankName, "bank", "", "bank name")
	fl.StringVar(&d.ProductName, "product", "", "product name")
	fl.StringVar(&d.ApplicantName, "applicant", "", "applicant name")
	fl.Float64Var(&d.Latitude, "lat", 0, "latitude")
	fl.Float64Var(&d.Longitude, "lng", 0, "longitude")
	fl.StringVar(&d.CaseType, "type", "", "case type")
	fl.StringVar(&d.Note, "note", "", "free-text note")

	return cmd
}

func newLOSUploadCmd() *cobra.Command {
	var losNo, detailID string

	cmd := &cobra.Command{
		Use:   "upload <photo>...",
		Short: "Attach photos to a loan-origination record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if losNo == "" && detailID == "" {
				return errors.New("one of --los-no or --detail-id is required")
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				if _, err := a.requireUser(cmd.Context()); err != nil {
					return err
				}

				resp, err := a.client.UploadLOSFiles(cmd.Context(), losNo, detailID, args)
				if err != nil {
					return fmt.Errorf("uploading LOS photos: %w", err)
				}

				return printLOSReply(cc, resp, fmt.Sprintf("Uploaded %d photos.", len(args)))
			})
		},
	}

	cmd.Flags().StringVar(&losNo, "los-no", "", "LOS number")
	cmd.Flags().StringVar(&detailID, "detail-id", "", "LOS detail id returned by 'los add'")

	return cmd
}

func newLOSDetailsCmd() *cobra.Command {
	var caseType string

	cmd := &cobra.Command{
		Use:   "details <los-no>",
		Short: "Look up a loan-origination record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				if _, err := a.requireUser(cmd.Context()); err != nil {
					return err
				}

				resp, err := a.client.FetchLOSDetails(cmd.Context(), args[0], caseType)
				if err != nil {
					return fmt.Errorf("fetching LOS details: %w", err)
				}

				return printJSON(cc.Out, resp)
			})
		},
	}

	cmd.Flags().StringVar(&caseType, "type", "", "case type")

	return cmd
}

// printLOSReply prints the backend reply with --json, a status line
// otherwise.
func printLOSReply(cc *CLIContext, resp json.RawMessage, msg string) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, resp)
	}

	cc.Statusf("%s\n", msg)

	return nil
}
