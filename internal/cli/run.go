package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/runner"
	"github.com/wesleyorama2/surge/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario against a target",
	Long: `Execute a scenario file with one or more virtual users.

Examples:
  surge run --config chat.yaml
  surge run --config chat.yaml --vus 50 --ramp-rate 10
  surge run --config chat.yaml --json > result.json`,
	Run: func(cmd *cobra.Command, args []string) {
		runScenario(cmd)
	},
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "scenario file (YAML or JSON)")
	runCmd.Flags().Int("vus", 1, "number of virtual users")
	runCmd.Flags().Float64("ramp-rate", 0, "virtual user starts per second (0 = all at once)")
	runCmd.Flags().Bool("json", false, "print the result as JSON instead of a summary")
	runCmd.Flags().Bool("no-color", false, "disable colored output")
	runCmd.Flags().Bool("loopback", false, "run against an in-process broker instead of the target")
	runCmd.MarkFlagRequired("config")
}

func runScenario(cmd *cobra.Command) {
	configFile, _ := cmd.Flags().GetString("config")
	vus, _ := cmd.Flags().GetInt("vus")
	rampRate, _ := cmd.Flags().GetFloat64("ramp-rate")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	loopback, _ := cmd.Flags().GetBool("loopback")

	sc, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading scenario: %v\n", err)
		os.Exit(1)
	}

	var dialer transport.Dialer = transport.WSDialer{}
	if loopback {
		dialer = &transport.MemDialer{Broker: transport.NewBroker()}
	}

	engine := metrics.NewEngine()
	r, err := runner.New(sc, dialer, engine, nil, nil, runner.Options{
		VUs:      vus,
		RampRate: rampRate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing run: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := r.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run interrupted: %v\n", err)
	}

	if jsonOutput {
		printJSON(result)
	} else {
		scheme := output.SchemeFor(os.Stdout, noColor)
		output.NewSummary(os.Stdout, scheme).Print(sc.Name, result)
	}

	if result.Failed > 0 || err != nil {
		os.Exit(1)
	}
}

func printJSON(result *runner.Result) {
	type userError struct {
		ContextID string `json:"contextId"`
		Error     string `json:"error"`
	}
	out := struct {
		Users     int               `json:"users"`
		Succeeded int               `json:"succeeded"`
		Failed    int               `json:"failed"`
		Errors    []userError       `json:"errors,omitempty"`
		Metrics   *metrics.Snapshot `json:"metrics"`
	}{
		Users:     result.Users,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Metrics:   result.Snapshot,
	}
	for _, ue := range result.Errors {
		out.Errors = append(out.Errors, userError{ContextID: ue.ContextID, Error: ue.Err.Error()})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
