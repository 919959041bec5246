package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/optimeist/optimeist/internal/journal"
	"github.com/optimeist/optimeist/internal/ui/styles"
)

const historyTimeFormat = "2006-01-02 15:04:05"

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent install batches",
	Long:  `Lists the install batches recorded in the local journal, newest first.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		units, _ := cmd.Flags().GetBool("units")

		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		return printHistory(cmd.Context(), cmd.OutOrStdout(), store, limit, units)
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 10, "number of batches to show")
	historyCmd.Flags().BoolP("units", "u", false, "list the functions of each batch")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(ctx context.Context, w io.Writer, store *journal.Store, limit int, withUnits bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	batches, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		_, err := fmt.Fprintln(w, styles.MutedStyle.Render("No install batches recorded yet."))
		return err
	}

	for _, b := range batches {
		state := styles.WarningStyle.Render("interrupted")
		switch {
		case b.FinishedAt != nil && b.Failed == 0:
			state = styles.SuccessStyle.Render("ok")
		case b.FinishedAt != nil:
			state = styles.ErrorStyle.UnsetPadding().Render(fmt.Sprintf("%d failed", b.Failed))
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %d functions  %s\n",
			b.StartedAt.Local().Format(historyTimeFormat),
			styles.MutedStyle.Render(b.ID),
			b.Total,
			state,
		); err != nil {
			return err
		}

		if !withUnits {
			continue
		}
		units, err := store.Units(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, u := range units {
			line := "  " + styles.SuccessStyle.Render("✓") + " " + u.UnitID
			if u.Status == journal.StatusFailed {
				line = "  " + styles.ErrorStyle.UnsetPadding().Render("✗") + " " + u.UnitID + "  " + styles.SecondaryStyle.Render(u.Error)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
