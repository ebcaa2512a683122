package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/raphaelgruber/ragserve/internal/client"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/spf13/cobra"
)

var (
	askConversation string
	askTopK         int
	askOutputFile   string
	askNoSources    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <agent-id> <question>",
	Short: "Ask an agent a question",
	Long: `Ask an agent a question grounded in its knowledge base.

The answer streams in as it is generated. The sources it was grounded in are
listed afterwards. Pass --conversation to continue an earlier exchange with
full history.

Examples:
  ragserve ask <agent-id> "How does the auth flow work?"
  ragserve ask <agent-id> "And what about refresh tokens?" --conversation <conversation-id>
  ragserve ask <agent-id> "Summarize the Q3 report" -k 10 -o answer.md`,
	Args: cobra.ExactArgs(2),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "continue an existing conversation")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default from server config)")
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write the answer to a file")
	askCmd.Flags().BoolVar(&askNoSources, "no-sources", false, "do not print sources")
}

func runAsk(cmd *cobra.Command, args []string) error {
	agentID, question := args[0], args[1]
	ctx := context.Background()

	var sources []models.Source
	events := client.AskEvents{
		OnSources: func(s []models.Source) {
			sources = s
		},
		OnDelta: func(text string) {
			fmt.Print(text)
		},
	}
	if askOutputFile != "" {
		// Quiet terminal output when writing to a file.
		events.OnDelta = nil
	}

	answer, err := api.Ask(ctx, agentID, question, askConversation, askTopK, events)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if askOutputFile == "" {
		fmt.Println()
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(answer+"\n"), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("Answer written to %s\n", askOutputFile)
	}

	if !askNoSources && len(sources) > 0 {
		fmt.Printf("\nSources (%d):\n", len(sources))
		for _, s := range sources {
			fmt.Printf("- %s (chunk %d, relevance %.2f)\n", s.Filename, s.ChunkIndex, s.Relevance)
		}
	}

	return nil
}
