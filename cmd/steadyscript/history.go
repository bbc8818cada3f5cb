package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MiFaceDEV/miface/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent session scores and the trend summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of most recent sessions to show (0 = all)")
	return cmd
}

func runHistory(limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.SessionsFile)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	hist, err := st.Recent(limit)
	if err != nil {
		return fmt.Errorf("reading session history: %w", err)
	}

	if len(hist.Sessions) == 0 {
		fmt.Println("no sessions recorded yet")
		return nil
	}

	for _, rec := range hist.Sessions {
		fmt.Printf("%s  %-6s  score=%.1f  duration=%.0fs\n", rec.Timestamp, rec.Type, rec.TremorScore, rec.DurationS)
	}
	fmt.Printf("\ntrend: %s (%+.0f%% change from previous average)\n", hist.Trend, hist.TrendPercent)
	return nil
}
