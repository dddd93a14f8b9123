package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/services/pipeline"
)

// Flags shared across subcommands, bound by the root command.
var (
	PresetFlag string
	ConfigFlag string
	JSONFlag   bool
)

// ExitBlocked is returned by the process when a check blocks the text.
const ExitBlocked = 1

// NewCheckPromptCommand checks a user prompt against the input stage.
func NewCheckPromptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-prompt [text]",
		Short: "Check a user prompt against the input guardrails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), strings.Join(args, " "), false)
		},
	}
}

// NewCheckResponseCommand checks a model response against the output stage.
func NewCheckResponseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-response [text]",
		Short: "Check a model response against the output guardrails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), strings.Join(args, " "), true)
		},
	}
}

func buildPipeline() (*pipeline.Pipeline, error) {
	if ConfigFlag != "" {
		return pipeline.NewFromFile(ConfigFlag, pipeline.WithLogger(zap.NewNop()))
	}
	return pipeline.FromPreset(PresetFlag, pipeline.WithLogger(zap.NewNop()))
}

func runCheck(ctx context.Context, text string, output bool) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}

	var result *pipeline.Result
	if output {
		result, err = p.CheckOutput(ctx, text, nil)
	} else {
		result, err = p.CheckInput(ctx, text, nil)
	}
	if err != nil {
		return err
	}

	printResult(result)
	if result.Blocked {
		os.Exit(ExitBlocked)
	}
	return nil
}

func printResult(result *pipeline.Result) {
	if JSONFlag {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println(strings.ToUpper(verdictWord(result)))
	for _, reason := range result.Reasons {
		fmt.Printf("  reason: %s\n", reason)
	}
	for _, warning := range result.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	fmt.Printf("guardrails: %d, time: %.2fms\n", len(result.Details), result.ProcessingTimeMS)
}

func verdictWord(result *pipeline.Result) string {
	switch result.Action() {
	case "block":
		return "blocked"
	case "warn":
		return "warned"
	default:
		return "allowed"
	}
}
