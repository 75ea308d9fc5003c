package cli

import (
	"github.com/spf13/cobra"

	"pool-price-alerts/internal/app"
)

var (
	exportSource    string
	exportCSVPath   string
	exportPNGPath   string
	exportOutCSV    string
	exportFromBlock uint64
	exportToBlock   uint64
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render recorded samples as a PNG chart and/or a filtered CSV log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Source:    exportSource,
			CSVPath:   exportCSVPath,
			PNGPath:   exportPNGPath,
			OutCSV:    exportOutCSV,
			FromBlock: exportFromBlock,
			ToBlock:   exportToBlock,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSource, "source", app.SourceCSV, "Sample source: csv, postgres or redis")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Sample log to read (defaults to sink.csv_path)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportOutCSV, "out", "", "Path to write the filtered samples as CSV")
	exportCmd.Flags().Uint64Var(&exportFromBlock, "from-block", 0, "First block to include")
	exportCmd.Flags().Uint64Var(&exportToBlock, "to-block", 0, "Last block to include (0 means no upper bound)")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
