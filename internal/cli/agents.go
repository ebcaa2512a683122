package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	agentDescription  string
	agentModel        string
	agentSystemPrompt string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents",
	Long: `Manage agents. Each agent has its own document collection, vector index
and chat configuration.

Subcommands:
  list    List agents (default)
  create  Create a new agent
  show    Show one agent
  delete  Delete an agent and all its data

Examples:
  ragserve agents
  ragserve agents create support-bot --description "Answers support questions"
  ragserve agents delete <agent-id>`,
	RunE: runListAgents,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE:  runListAgents,
}

var agentsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreateAgent,
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowAgent,
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "Delete an agent and all its data",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteAgent,
}

func init() {
	agentsCreateCmd.Flags().StringVarP(&agentDescription, "description", "d", "", "agent description")
	agentsCreateCmd.Flags().StringVarP(&agentModel, "model", "m", "", "chat model (default from server config)")
	agentsCreateCmd.Flags().StringVarP(&agentSystemPrompt, "prompt", "p", "", "custom system prompt")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsCreateCmd)
	agentsCmd.AddCommand(agentsShowCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
}

func runListAgents(cmd *cobra.Command, args []string) error {
	agents, err := api.ListAgents(context.Background())
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	if len(agents) == 0 {
		fmt.Println("No agents found. Create one with 'ragserve agents create <name>'.")
		return nil
	}

	fmt.Printf("Agents (%d):\n\n", len(agents))
	for _, a := range agents {
		fmt.Printf("- %s  [%s]\n", a.Name, a.ID)
		fmt.Printf("  model: %s, documents: %d, chunks: %d\n", a.Model, a.DocumentCount, a.TotalChunks)
		if verbose && a.Description != nil && *a.Description != "" {
			fmt.Printf("  %s\n", *a.Description)
		}
	}
	return nil
}

func runCreateAgent(cmd *cobra.Command, args []string) error {
	var description, prompt *string
	if agentDescription != "" {
		description = &agentDescription
	}
	if agentSystemPrompt != "" {
		prompt = &agentSystemPrompt
	}

	agent, err := api.CreateAgent(context.Background(), args[0], description, prompt, agentModel)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	fmt.Printf("Created agent %q\n", agent.Name)
	fmt.Printf("  id:    %s\n", agent.ID)
	fmt.Printf("  model: %s\n", agent.Model)
	return nil
}

func runShowAgent(cmd *cobra.Command, args []string) error {
	agent, err := api.GetAgent(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}

	fmt.Printf("%s  [%s]\n", agent.Name, agent.ID)
	if agent.Description != nil && *agent.Description != "" {
		fmt.Printf("  %s\n", *agent.Description)
	}
	fmt.Printf("  model:     %s\n", agent.Model)
	fmt.Printf("  documents: %d\n", agent.DocumentCount)
	fmt.Printf("  chunks:    %d\n", agent.TotalChunks)
	fmt.Printf("  created:   %s\n", agent.CreatedAt.Format("2006-01-02 15:04"))
	if agent.SystemPrompt != nil && *agent.SystemPrompt != "" {
		fmt.Printf("\nSystem prompt:\n%s\n", *agent.SystemPrompt)
	}
	return nil
}

func runDeleteAgent(cmd *cobra.Command, args []string) error {
	if err := api.DeleteAgent(context.Background(), args[0]); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	fmt.Printf("Deleted agent %s and all its documents.\n", args[0])
	return nil
}
