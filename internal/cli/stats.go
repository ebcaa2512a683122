package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long: `Show the server's in-memory operation statistics: timings for embedding,
generation, index and database operations, plus token usage. Counters reset
when the server restarts.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := api.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("format stats: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
