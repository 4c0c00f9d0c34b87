package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/triage-ai/intervene/internal/config"
	"github.com/triage-ai/intervene/internal/replay"
)

var (
	replayFormat  string
	replayVerbose bool
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "Log handler decisions to stderr")
}

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Replay recorded orchestrator traffic through the chain",
	Long: "Runs each scenario's steps in order through one chain built from the\n" +
		"configured defaults plus the scenario's policy, and prints every verdict.\n" +
		"Exits non-zero when a step's expect does not match.",
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if replayVerbose {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.OutputPaths = []string{"stderr"}
		if logger, err = zcfg.Build(); err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck
	}

	var results []*replay.RunResult
	failed := 0
	for _, path := range args {
		r, err := replay.LoadAndRun(path, cfg.HandlerSettings(), logger)
		if err != nil {
			return err
		}
		failed += r.Failed
		results = append(results, r)
	}

	w := cmd.OutOrStdout()
	switch replayFormat {
	case "json":
		out, err := replay.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
	default:
		fmt.Fprint(w, replay.FormatText(results))
	}

	if failed > 0 {
		return fmt.Errorf("%d step(s) did not match their expected verdict", failed)
	}
	return nil
}
