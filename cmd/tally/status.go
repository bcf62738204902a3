package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmynk/tally/internal/ledger"
)

func (a *app) statusCmd() *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the ledger is stored and whether changes are saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				st := l.Status()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "path:     %s\n", st.Path)
				fmt.Fprintf(out, "mode:     %s\n", st.Mode)
				fmt.Fprintf(out, "durable:  %t\n", st.Durable)
				fmt.Fprintf(out, "entities: %d\n", st.Entities)
				if st.Err != nil {
					fmt.Fprintf(out, "error:    %v\n", st.Err)
				}
				if showMetrics {
					return a.writeMetrics(cmd)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "also print ledger metrics")
	return cmd
}

// writeMetrics prints every registered sample as "name{labels} value".
func (a *app) writeMetrics(cmd *cobra.Command) error {
	families, err := a.reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			value := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			lines = append(lines, fmt.Sprintf("%s %g", name, value))
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(cmd.OutOrStdout())
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
