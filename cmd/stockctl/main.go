// Package main provides stockctl, the operator CLI for the stock grid.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/rl1809/stockgrid/internal/adapter/handler"
	"github.com/rl1809/stockgrid/internal/app"
	"github.com/rl1809/stockgrid/internal/config"
	"github.com/rl1809/stockgrid/internal/core/domain"
)

var (
	stock *app.App

	remoteURL    string
	cacheBackend string
	aisleFilter  string
	exportPath   string
	description  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stockctl",
	Short: "stockctl - inspect and edit the warehouse stock grid",
	Long: `stockctl reads and edits the same inventory the server exposes.

Settings come from STOCKGRID_* environment variables; --remote-url and
--backend override the matching ones. When the remote store is out of quota
the command keeps working against the local cache.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if remoteURL != "" {
			os.Setenv("STOCKGRID_REMOTE_URL", remoteURL)
		}
		if cacheBackend != "" {
			os.Setenv("STOCKGRID_CACHE_BACKEND", cacheBackend)
		}

		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		ctx := cmd.Context()
		stock, err = app.New(ctx, cfg, app.NewLogger(cfg, os.Stderr))
		if err != nil {
			return err
		}
		return stock.Init(ctx)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if stock == nil {
			return nil
		}
		return stock.Shutdown(context.Background())
	},
}

// listCmd prints items, optionally for a single aisle
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stocked items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			items []domain.Item
			err   error
		)
		if aisleFilter != "" {
			items, err = stock.Inventory.SelectByAisle(cmd.Context(), aisleFilter)
		} else {
			items, err = stock.Inventory.SelectAll(cmd.Context())
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LOCATION\tREFERENCE\tQTY\tDESCRIPTION\tID")
		for _, it := range domain.SortedByID(items) {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", it.Slot(), it.Reference, it.Quantity, it.Description, it.ID)
		}
		return w.Flush()
	},
}

// searchCmd ranks the boxes holding a reference
var searchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "Rank the locations holding a reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := stock.Inventory.Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(res.Locations) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No location holds %q\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tLOCATION\tREFERENCE\tQTY\tPRIO\tACCESS\tPROX")
		for _, loc := range res.Locations {
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%d\t%d\t%d\t%d\n",
				loc.Score, loc.SlotAddress, loc.Reference, loc.Quantity, loc.Priority, loc.Accessibility, loc.Proximity)
		}
		fmt.Fprintf(w, "\ntotal units: %d\n", res.TotalUnits)
		return w.Flush()
	},
}

// exportCmd writes the full item set as JSON
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full item set as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := stock.Inventory.SelectAll(cmd.Context())
		if err != nil {
			return err
		}

		rows := make([]domain.Row, 0, len(items))
		for _, it := range domain.SortedByID(items) {
			rows = append(rows, it.ToRow())
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}

		path := exportPath
		if path == "" {
			path = handler.ExportFilename(time.Now())
		}
		if path == "-" {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d items to %s\n", len(rows), path)
		return nil
	},
}

// addCmd stocks units of a reference in a slot
var addCmd = &cobra.Command{
	Use:   "add [slot] [reference] [quantity]",
	Short: "Add units of a reference to a slot, e.g. add A-1-1 REF001 10",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, qty, err := parseSlotArgs(args[0], args[2])
		if err != nil {
			return err
		}
		return applyAndPrint(cmd, domain.AddStock{Slot: addr, Reference: args[1], Description: description, Quantity: qty})
	},
}

// withdrawCmd takes units of a reference out of a slot
var withdrawCmd = &cobra.Command{
	Use:   "withdraw [slot] [reference] [quantity]",
	Short: "Withdraw units of a reference from a slot",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, qty, err := parseSlotArgs(args[0], args[2])
		if err != nil {
			return err
		}
		return applyAndPrint(cmd, domain.Withdraw{Slot: addr, Reference: args[1], Quantity: qty})
	},
}

// statusCmd shows which store is serving
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the remote store or the local cache is in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if stock.Inventory.IsFallbackMode() {
			fmt.Fprintf(out, "mode:     fallback (local cache)\nreason:   %s\n", stock.Inventory.FallbackReason())
		} else {
			fmt.Fprintf(out, "mode:     remote\nresource: %s\n", stock.Inventory.Resource())
		}
		fmt.Fprintf(out, "backend:  %s\n", stock.Config.CacheBackend)
		return nil
	},
}

func applyAndPrint(cmd *cobra.Command, m domain.Mutation) error {
	g, err := stock.Inventory.Apply(cmd.Context(), m)
	if err != nil {
		return err
	}
	addr := m.Target()
	addr.Aisle = strings.ToUpper(addr.Aisle)
	slot, _ := g.Slot(addr)

	out := cmd.OutOrStdout()
	if slot.Empty() {
		fmt.Fprintf(out, "%s is now empty\n", addr)
		return nil
	}
	for _, it := range slot.Items {
		fmt.Fprintf(out, "%s  %s  %d\n", addr, it.Reference, it.Quantity)
	}
	return nil
}

// parseSlotArgs reads "A-1-1" style addresses.
func parseSlotArgs(label, quantity string) (domain.SlotAddress, int, error) {
	parts := strings.Split(label, "-")
	if len(parts) != 3 {
		return domain.SlotAddress{}, 0, fmt.Errorf("slot must look like A-1-1, got %q", label)
	}
	col, err := cast.ToIntE(parts[1])
	if err != nil {
		return domain.SlotAddress{}, 0, fmt.Errorf("invalid column %q", parts[1])
	}
	level, err := cast.ToIntE(parts[2])
	if err != nil {
		return domain.SlotAddress{}, 0, fmt.Errorf("invalid level %q", parts[2])
	}
	qty, err := cast.ToIntE(quantity)
	if err != nil {
		return domain.SlotAddress{}, 0, fmt.Errorf("invalid quantity %q", quantity)
	}
	return domain.SlotAddress{Aisle: strings.ToUpper(strings.TrimSpace(parts[0])), Column: col, Level: level}, qty, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote-url", "", "remote store base URL (overrides STOCKGRID_REMOTE_URL)")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "backend", "", "local cache backend: sqlite, memory, redis, mysql or postgres")

	listCmd.Flags().StringVar(&aisleFilter, "aisle", "", "only list this aisle")
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "", "output file, - for stdout (default inventory-<timestamp>.json)")
	addCmd.Flags().StringVar(&description, "description", "", "description for a new reference")

	rootCmd.AddCommand(listCmd, searchCmd, exportCmd, addCmd, withdrawCmd, statusCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
