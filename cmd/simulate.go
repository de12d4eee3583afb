package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/scenario"
	"github.com/michaelpento.lv/flashexec/utils"
	"github.com/michaelpento.lv/flashexec/utils/monitor"
)

var (
	simulateDryRun  bool
	simulateOnly    []string
	simulateMetrics bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Deploy a scenario on a local chain and run its flash loan requests",
	Long: `Deploys the pool, venues, executor and positions described by a scenario
file on a fresh local chain, then runs each request in order. Every request
is simulated first; requests not marked dry_run are then executed.

The command fails when any request does not match its expectation.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "simulate every request without executing it")
	simulateCmd.Flags().StringSliceVar(&simulateOnly, "request", nil, "run only the named requests")
	simulateCmd.Flags().BoolVar(&simulateMetrics, "metrics", false, "print executor metrics after the run")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	log := utils.GetLogger()

	s, err := scenario.Load(args[0])
	if err != nil {
		return err
	}
	if err := selectRequests(s, simulateOnly); err != nil {
		return err
	}
	if simulateDryRun {
		for i := range s.Requests {
			s.Requests[i].DryRun = true
		}
	}

	reg := prometheus.NewRegistry()
	runtimeMonitor := monitor.NewRuntimeMonitor(reg, "flashexec", log)
	d, err := scenario.Deploy(s, reg, log)
	if err != nil {
		return fmt.Errorf("failed to deploy scenario: %w", err)
	}

	outcomes, runErr := d.Run(cmd.Context())
	printOutcomes(cmd.OutOrStdout(), d, outcomes, simulateDryRun)
	if simulateMetrics {
		runtimeMonitor.Collect()
		if err := printMetrics(cmd.OutOrStdout(), reg); err != nil {
			log.Warn("Failed to gather metrics", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	// expectations assume the earlier requests were executed
	if simulateDryRun {
		return nil
	}

	mismatched := 0
	for _, o := range outcomes {
		if !o.Matched() {
			mismatched++
		}
	}
	if mismatched > 0 {
		return fmt.Errorf("%d of %d requests did not match their expectations", mismatched, len(outcomes))
	}
	return nil
}

func selectRequests(s *scenario.Scenario, names []string) error {
	if len(names) == 0 {
		return nil
	}
	byName := make(map[string]scenario.Request, len(s.Requests))
	for _, r := range s.Requests {
		byName[r.Name] = r
	}
	selected := make([]scenario.Request, 0, len(names))
	for _, name := range names {
		r, ok := byName[name]
		if !ok {
			return fmt.Errorf("scenario %s has no request %q", s.Name, name)
		}
		selected = append(selected, r)
	}
	s.Requests = selected
	return nil
}

func printOutcomes(w io.Writer, d *scenario.Deployment, outcomes []*scenario.Outcome, hideMatch bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST\tSTRATEGY\tRESULT\tAMOUNT\tPREMIUM\tPROFIT\tFEE\tGAS\tTX")
	for _, o := range outcomes {
		result := "ok"
		if !o.Success {
			result = o.Condition
		}
		if o.DryRun {
			result += " (dry run)"
		}
		if !hideMatch && !o.Matched() {
			result += " MISMATCH: " + o.Mismatch
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			o.Name,
			o.Strategy,
			result,
			d.Format(o.Asset, o.Amount),
			d.Format(o.Asset, o.Premium),
			d.Format(o.Asset, o.Profit),
			d.Format(o.Asset, o.Fee),
			o.GasUsed,
			o.TxHash.TerminalString())
	}
	tw.Flush()
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%g", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(w)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}
