package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stinger-proxy/stinger/internal/services/health"
	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

// NewHealthCommand reports pipeline health for the selected preset.
func NewHealthCommand() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline()
			if err != nil {
				return err
			}

			limiter := ratelimit.Default()
			snapshot := p.Monitor().SystemHealth(
				p.HealthStatus(),
				nil,
				health.RateLimiterStatus{
					Available:        true,
					TotalTrackedKeys: len(limiter.Keys(cmd.Context())),
				},
			)

			if detailed || JSONFlag {
				data, _ := json.MarshalIndent(snapshot, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("status: %s\n", snapshot.OverallStatus)
			fmt.Printf("guardrails: %d enabled of %d\n",
				snapshot.PipelineStatus.TotalEnabled, snapshot.PipelineStatus.Total)
			fmt.Printf("rules version: %s\n", p.RulesVersion())
			return nil
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "print the full health snapshot")
	return cmd
}
