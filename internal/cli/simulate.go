package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pool-price-alerts/internal/app"
)

var (
	simulatePrices        string
	simulateQuoteReserves string
	simulateStartBlock    uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "回放一段价格序列，验证告警规则",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if err := applyMonitorFlags(cmd.Flags(), a.Config); err != nil {
			return err
		}

		prices, err := parseDecimals("--prices", simulatePrices)
		if err != nil {
			return err
		}
		reserves, err := parseDecimals("--quote-reserves", simulateQuoteReserves)
		if err != nil {
			return err
		}

		csvPath := ""
		if cmd.Flags().Changed("csv") {
			csvPath = a.Config.Sink.CSVPath
		}

		return a.Simulate(cmd.Context(), app.SimulateOptions{
			Prices:        prices,
			QuoteReserves: reserves,
			StartBlock:    simulateStartBlock,
			CSVPath:       csvPath,
		})
	},
}

func init() {
	addMonitorFlags(simulateCmd.Flags())
	simulateCmd.Flags().StringVar(&simulatePrices, "prices", "", "逗号分隔的价格序列，每个值对应一个区块")
	simulateCmd.Flags().StringVar(&simulateQuoteReserves, "quote-reserves", "", "可选：逗号分隔的报价资产储备序列")
	simulateCmd.Flags().Uint64Var(&simulateStartBlock, "start-block", 1, "第一个模拟区块高度")
	_ = simulateCmd.MarkFlagRequired("prices")
}

func parseDecimals(flag, raw string) ([]decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", flag, p, err)
		}
		out = append(out, d)
	}
	return out, nil
}
