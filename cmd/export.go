package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the usage report of completed reservations as CSV",
	Long: `Write the usage report of completed reservations as CSV. With ` +
		`--output - the report goes to stdout; without --output it is written ` +
		`to <prefix>-<date>.csv in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		reservations, err := a.bookings.List(ctx)
		if err != nil {
			return err
		}
		directory, err := a.teams.Directory(ctx)
		if err != nil {
			return err
		}

		path := exportOutput
		if path == "" {
			path = a.exporter.Filename(a.clock.Now().In(a.location))
		}

		var rows int
		err = writeTo(cmd.OutOrStdout(), path, func(w io.Writer) error {
			rows, err = a.exporter.Export(w, reservations, directory.StudentID)
			return err
		})
		if err != nil {
			return err
		}

		log.Info().Int("rows", rows).Str("output", path).Msg("usage report written")
		return nil
	},
}

// writeTo hands write the file at path, or stdout when path is "-". The file
// is closed before writeTo returns and a failed close is an error.
func writeTo(stdout io.Writer, path string, write func(io.Writer) error) (err error) {
	if path == "-" {
		return write(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	return write(f)
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", `output file, or "-" for stdout`)
}
