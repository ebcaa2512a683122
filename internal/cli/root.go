// Package cli provides the command-line interface for ragserve.
package cli

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/ragserve/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "1.0.0"

	// Global flags
	serverURL string
	verbose   bool

	// api talks to the ragserve server, created before every command run.
	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ragserve",
	Short: "Agent-based RAG chat over your documents",
	Long: `Ragserve manages chat agents that answer questions grounded in their own
document collections.

Create an agent, upload documents to its knowledge base, then ask questions.
Answers stream in as they are generated and cite the document chunks they
were grounded in.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (default $RAGSERVE_SERVER_URL or http://localhost:8000)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(statsCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
