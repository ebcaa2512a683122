package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage an agent's documents",
	Long: `Manage the documents in an agent's knowledge base.

Subcommands:
  list    List documents (default)
  delete  Remove a document and its index entries

Examples:
  ragserve docs list <agent-id>
  ragserve docs delete <agent-id> <document-id>`,
	Args: cobra.ExactArgs(1),
	RunE: runListDocs,
}

var docsListCmd = &cobra.Command{
	Use:   "list <agent-id>",
	Short: "List documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runListDocs,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id> <document-id>",
	Short: "Remove a document and its index entries",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeleteDoc,
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

func runListDocs(cmd *cobra.Command, args []string) error {
	docs, err := api.ListDocuments(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(docs) == 0 {
		fmt.Println("No documents found. Upload one with 'ragserve upload'.")
		return nil
	}

	fmt.Printf("Documents (%d):\n\n", len(docs))
	for _, d := range docs {
		fmt.Printf("- %s  [%s]\n", d.OriginalFilename, d.ID)
		fmt.Printf("  status: %s, chunks: %d, size: %s\n", d.Status, d.ChunkCount, formatSize(d.FileSize))
		if d.Status == "failed" && d.ErrorMessage != nil {
			fmt.Printf("  error: %s\n", *d.ErrorMessage)
		}
	}
	return nil
}

func runDeleteDoc(cmd *cobra.Command, args []string) error {
	if err := api.DeleteDocument(context.Background(), args[0], args[1]); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	fmt.Printf("Deleted document %s.\n", args[1])
	return nil
}

// formatSize renders a byte count for humans.
func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
