package main

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spreadrun/internal/models"
	"github.com/sawpanic/spreadrun/internal/scanner"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan SYMBOL [SYMBOL...]",
		Short: "Scan symbols once and print ranked spreads",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScan,
	}
	cmd.Flags().String("preset", "", "Filter preset (defaults to filters.preset)")
	cmd.Flags().String("profile", "", "Scoring profile (default|conservative|aggressive)")
	cmd.Flags().Int("limit", 10, "Spreads shown per symbol")
	cmd.Flags().String("output", "table", "Output format (table|json)")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	preset, _ := cmd.Flags().GetString("preset")
	profile, _ := cmd.Flags().GetString("profile")
	limit, _ := cmd.Flags().GetInt("limit")
	output, _ := cmd.Flags().GetString("output")
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	c, err := newCore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	base := c.filters.Current()
	if preset != "" {
		p, err := c.filters.Presets().Get(preset)
		if err != nil {
			return err
		}
		base = p.Filters
	}

	batch, err := c.scanner.ScanMultiple(cmd.Context(), args, scanner.Options{
		Filters: base,
		Profile: profile,
		Limit:   limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	}

	for _, result := range batch.Results {
		renderResult(out, result)
	}
	for _, e := range batch.Errors {
		log.Error().Str("symbol", e.Symbol).Msg(e.Error)
	}
	if len(batch.Results) == 0 {
		return fmt.Errorf("no symbol scanned successfully")
	}
	return nil
}

func renderResult(w io.Writer, r *models.ScanResult) {
	fmt.Fprintf(w, "\n%s  contracts %d  filtered %d  candidates %d  (%s)\n",
		r.Symbol, r.TotalContracts, r.FilteredContracts, r.CandidateSpreads, r.Duration.Round(time.Microsecond))
	if len(r.Spreads) == 0 {
		fmt.Fprintln(w, "  no spreads passed the filters")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Strategy", "Expiry", "Long", "Short", "Debit", "Max Profit", "R/R", "PoP", "Breakeven", "Score"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i := range r.Spreads {
		s := &r.Spreads[i]
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			string(s.Strategy),
			s.Expiry.Format("2006-01-02"),
			fmt.Sprintf("%.2f", s.Long.Strike),
			fmt.Sprintf("%.2f", s.Short.Strike),
			fmt.Sprintf("%.2f", s.NetDebit),
			fmt.Sprintf("%.2f", s.MaxProfit),
			fmt.Sprintf("%.2f", s.RiskReward()),
			fmt.Sprintf("%.0f%%", s.PoP*100),
			fmt.Sprintf("%.2f", s.Breakeven),
			fmt.Sprintf("%.1f", s.Score),
		})
	}
	table.Render()
}
