package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var modelsFilter string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available chat models",
	Long: `List the chat models available through the server's model provider.

Examples:
  ragserve models
  ragserve models --filter claude`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsFilter, "filter", "f", "", "only show models whose id or name contains this string")
}

func runModels(cmd *cobra.Command, args []string) error {
	models, err := api.ListModels(context.Background())
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	filter := strings.ToLower(modelsFilter)
	shown := 0
	for _, m := range models {
		if filter != "" &&
			!strings.Contains(strings.ToLower(m.ID), filter) &&
			!strings.Contains(strings.ToLower(m.Name), filter) {
			continue
		}
		shown++

		fmt.Printf("- %s\n", m.ID)
		if verbose {
			fmt.Printf("  %s", m.Name)
			if m.ContextLength > 0 {
				fmt.Printf(", context %d", m.ContextLength)
			}
			if m.Pricing != nil && m.Pricing.Prompt != "" {
				fmt.Printf(", prompt $%s/token", m.Pricing.Prompt)
			}
			fmt.Println()
		}
	}

	if shown == 0 {
		fmt.Println("No models matched.")
		return nil
	}
	fmt.Printf("\n%d models\n", shown)
	return nil
}
