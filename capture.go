package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/capture"
)

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Ingest photos from a camera intake directory",
	}

	cmd.AddCommand(newCaptureWatchCmd(), newCaptureStampCmd())

	return cmd
}

func newCaptureWatchCmd() *cobra.Command {
	var (
		caseKey string
		dir     string
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach photos dropped into the intake directory to a case",
		Long: `Watch the intake directory (capture.watch_dir) and attach every photo that
appears there to --case, reading location from its <photo>.json sidecar. The
intake copy is removed once attached. With --once, ingest what is there and
exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				ctx := cmd.Context()

				data, err := a.repo.LoadCase(ctx, caseKey)
				if err != nil {
					return err
				}

				if data == nil {
					return fmt.Errorf("case %q not found", caseKey)
				}

				if dir == "" {
					dir = cc.Cfg.WatchDir
				}

				w, err := capture.NewWatcher(capture.WatcherConfig{
					Dir:      dir,
					CaseKey:  data.Metadata.Key(),
					Saver:    a.repo,
					Logger:   cc.Logger,
					Settle:   cc.Cfg.Settle,
					MaxBytes: cc.Cfg.MaxImageBytes,
					OnIngest: func(in capture.Ingested) {
						cc.Statusf("Attached %s as image %d.\n", in.Source, in.ImageID)
					},
				})
				if err != nil {
					return err
				}

				if once {
					if err := os.MkdirAll(dir, 0o700); err != nil {
						return fmt.Errorf("creating intake directory: %w", err)
					}

					n, err := w.IngestExisting(ctx)
					if err != nil {
						return err
					}

					cc.Statusf("Ingested %d photos.\n", n)

					return nil
				}

				cc.Statusf("Watching %s for photos for %s. Press Ctrl-C to stop.\n", dir, data.Metadata.Key())

				return w.Run(shutdownContext(ctx, cc.Logger))
			})
		},
	}

	cmd.Flags().StringVar(&caseKey, "case", "", "case to attach photos to")
	cmd.Flags().StringVar(&dir, "dir", "", "intake directory (default capture.watch_dir)")
	cmd.Flags().BoolVar(&once, "once", false, "ingest existing photos and exit")
	_ = cmd.MarkFlagRequired("case")

	return cmd
}

func newCaptureStampCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stamp <photo>",
		Short: "Print the geotag overlay text for a photo",
		Long: `Print the overlay burned into geotagged photos, built from the photo's
sidecar: latitude, longitude, address and capture time. Prints nothing when
the photo has neither a location nor an address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("reading photo: %w", err)
			}

			sc, err := capture.ReadSidecar(args[0])
			if err != nil {
				return err
			}

			in, err := sc.ImageInput(args[0])
			if err != nil {
				return err
			}

			at := info.ModTime()
			if in.CapturedAt != nil {
				at = *in.CapturedAt
			}

			if text := capture.BuildStampText(in.Latitude, in.Longitude, in.Address, at); text != "" {
				fmt.Fprintln(cc.Out, text)
			}

			return nil
		},
	}
}
