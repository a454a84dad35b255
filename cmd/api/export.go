package main

import (
	"fmt"
	"io"
	"os"

	"calendar/internal/application/dto"
	appService "calendar/internal/application/service"
	appLogger "calendar/internal/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	exportOut     string
	exportOrderBy string
	exportTop     int
	exportQuery   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write notes as CSV to stdout or a file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer appLogger.Sync(log)

		store, err := openStorage(cfg.Database, log)
		if err != nil {
			return err
		}
		defer store.close()

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}

		q := dto.NoteQuery{TitleContains: exportQuery, OrderBy: exportOrderBy, Top: exportTop}
		return appService.NewNoteService(store.notes, log).ExportCSV(cmd.Context(), w, q)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportOrderBy, "order-by", "reminderAt", "Sort field: createdAt, reminderAt or title, optionally followed by desc")
	exportCmd.Flags().IntVar(&exportTop, "top", appService.MaxTop, "Maximum number of notes")
	exportCmd.Flags().StringVarP(&exportQuery, "query", "q", "", "Only notes whose title contains this text")
}
