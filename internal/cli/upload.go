package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var uploadNoWait bool

var uploadCmd = &cobra.Command{
	Use:   "upload <agent-id> <file>...",
	Short: "Upload documents to an agent's knowledge base",
	Long: `Upload one or more documents to an agent's knowledge base.

Supported file types: txt, md, csv, pdf. Processing (text extraction,
chunking, embedding, indexing) runs server-side; by default the command
waits and shows progress.

Examples:
  ragserve upload <agent-id> notes.md
  ragserve upload <agent-id> report.pdf data.csv --no-wait`,
	Args: cobra.MinimumNArgs(2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadNoWait, "no-wait", false, "return immediately without waiting for processing")
}

func runUpload(cmd *cobra.Command, args []string) error {
	agentID := args[0]
	ctx := context.Background()

	for _, path := range args[1:] {
		doc, err := api.UploadDocument(ctx, agentID, path)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}

		fmt.Printf("Uploaded %s (document %s)\n", doc.OriginalFilename, doc.ID)
		if uploadNoWait {
			continue
		}

		if err := RunDocumentProgress(api, agentID, doc); err != nil {
			return fmt.Errorf("process %s: %w", path, err)
		}
	}

	return nil
}
