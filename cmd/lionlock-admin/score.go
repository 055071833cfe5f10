package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lionlock/lionlock/internal/canonical"
	"github.com/lionlock/lionlock/internal/config"
	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/scoring"
)

var (
	scorePrompt   string
	scoreResponse string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a prompt/response pair and print the gate decision",
	RunE:  runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scorePrompt, "prompt", "", "Prompt text")
	scoreCmd.Flags().StringVar(&scoreResponse, "response", "", "Response text")
	_ = scoreCmd.MarkFlagRequired("response")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	bundle := scoring.Score(scorePrompt, scoreResponse, nil)
	aggregate := scoring.Aggregate(bundle.Scores, cfg.Signals.Weights, cfg.Signals.Enabled)
	decision := gate.Decide(bundle, aggregate, cfg.Policy())

	out, err := canonical.Marshal(map[string]any{
		"bundle":   bundle.Map(),
		"decision": decisionMap(decision),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func decisionMap(d gate.Decision) map[string]any {
	return map[string]any{
		"severity":            d.Severity,
		"decision":            d.Decision,
		"reason_code":         d.ReasonCode,
		"aggregate_score":     d.AggregateScore,
		"decision_risk_score": d.DecisionRiskScore,
		"trigger_signal":      d.TriggerSignal,
	}
}
