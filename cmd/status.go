package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/donor-caging/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue backlog, cage rate, and any alerts they trigger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback := cfg.Monitoring
		if lookback.LookbackWindowHours <= 0 {
			lookback.LookbackWindowHours = 24
		}
		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(lookback), lookback)
		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		return printStatus(cmd.OutOrStdout(), snap, alerts)
	},
}

func printStatus(w io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) error {
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*monitoring.MetricsSnapshot
		Alerts []monitoring.Alert `json:"alerts"`
	}{snap, alerts})
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
