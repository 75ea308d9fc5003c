package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pool-price-alerts/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the block-by-block pool monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if err := applyMonitorFlags(cmd.Flags(), a.Config); err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	addMonitorFlags(runCmd.Flags())
	runCmd.Flags().String("pair", config.DefaultPairAddress, "Pair contract address")
	runCmd.Flags().String("rpc-url", "", "JSON-RPC endpoint (defaults to RPC_URL)")
}

// addMonitorFlags registers the alert rule flags shared by run and simulate.
func addMonitorFlags(fs *pflag.FlagSet) {
	fs.Float64("interval", 12, "Seconds to wait when no new block is available")
	fs.Float64("threshold", 0.5, "Alert when the windowed move is at least this many percent")
	fs.Int("window", 5, "Look-back window in blocks")
	fs.Float64("min-usdc", 0, "Minimum quote reserve change between samples (0 disables the gate)")
	fs.Bool("quiet", false, "Print only alert lines")
	fs.String("csv", "prices.csv", "Sample log path")
}

// applyMonitorFlags copies explicitly set flags over the loaded config and re-validates it.
func applyMonitorFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}

	set("interval", func() { cfg.Monitor.IntervalSeconds, err = fs.GetFloat64("interval") })
	set("threshold", func() { cfg.Monitor.ThresholdPct, err = fs.GetFloat64("threshold") })
	set("window", func() { cfg.Monitor.WindowBlocks, err = fs.GetInt("window") })
	set("min-usdc", func() { cfg.Monitor.MinActivity, err = fs.GetFloat64("min-usdc") })
	set("quiet", func() { cfg.Monitor.Quiet, err = fs.GetBool("quiet") })
	set("csv", func() { cfg.Sink.CSVPath, err = fs.GetString("csv") })
	if fs.Lookup("pair") != nil {
		set("pair", func() { cfg.Ethereum.PairAddress, err = fs.GetString("pair") })
	}
	if fs.Lookup("rpc-url") != nil {
		set("rpc-url", func() { cfg.Ethereum.RPCURL, err = fs.GetString("rpc-url") })
	}
	if err != nil {
		return err
	}

	return cfg.Validate()
}
