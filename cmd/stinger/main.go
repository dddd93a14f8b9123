package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stinger-proxy/stinger/cmd/stinger/commands"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/detectors"
)

var version = "dev"

func main() {
	detectors.RegisterAll()

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stinger",
		Short: "Guardrail checks for LLM prompts and responses",
		Long: `Run guardrail pipelines against prompts and model responses from the
command line. Exit code 0 means the text was allowed, 1 means it was
blocked, 2 means the check itself failed.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&commands.PresetFlag, "preset", "customer_service", "pipeline preset to use")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigFlag, "pipeline-config", "", "pipeline config file (overrides --preset)")
	rootCmd.PersistentFlags().BoolVar(&commands.JSONFlag, "json", false, "output in JSON format")

	rootCmd.AddCommand(commands.NewCheckPromptCommand())
	rootCmd.AddCommand(commands.NewCheckResponseCommand())
	rootCmd.AddCommand(commands.NewDemoCommand())
	rootCmd.AddCommand(commands.NewHealthCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stinger %s\n", version)
		},
	}
}
