package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spreadrun/internal/filters"
)

func presetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect filter presets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in and custom presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := presetStore(cmd)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Built-in", "Description"})
			table.SetBorder(false)
			for _, p := range store.List() {
				table.Append([]string{p.Name, fmt.Sprintf("%t", p.BuiltIn), p.Description})
			}
			table.Render()
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print a preset's filters as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := presetStore(cmd)
			if err != nil {
				return err
			}
			p, err := store.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	})
	return cmd
}

func presetStore(cmd *cobra.Command) (*filters.PresetStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store := filters.NewPresetStore()
	if cfg.Filters.PresetFile != "" {
		if _, err := store.LoadFile(cfg.Filters.PresetFile); err != nil {
			return nil, err
		}
	}
	return store, nil
}
