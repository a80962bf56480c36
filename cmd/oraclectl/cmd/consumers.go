package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/spf13/cobra"
)

var consumersCmd = &cobra.Command{
	Use:   "consumers",
	Short: "Inspect in-process consumer targets",
}

var consumersShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show the latest values a consumer received",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := models.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		snap, err := c.Consumer(cmd.Context(), id)
		if err != nil {
			return err
		}
		if done, err := printStructured(snap); done {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Identity", snap.Identity.String())
		table.Append("Name", snap.Name)
		table.Append("Value", snap.Value)
		table.Append("Bytes32", snap.Bytes32)
		if snap.Bytes32Text != "" {
			table.Append("Bytes32 (text)", snap.Bytes32Text)
		}
		table.Append("Price", snap.Price)
		table.Append("Text", snap.Text)
		table.Append("Deliveries", fmt.Sprintf("%d", len(snap.Deliveries)))
		if snap.UpdatedAt != nil {
			table.Append("Updated At", snap.UpdatedAt.Local().Format(time.RFC3339))
		}
		table.Render()
		return nil
	},
}

var selectorsCmd = &cobra.Command{
	Use:   "selectors",
	Short: "List the handler variants the oracle dispatches to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		variants, err := c.Selectors(cmd.Context())
		if err != nil {
			return err
		}
		if done, err := printStructured(variants); done {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Kind", "Signature", "Selector")
		for _, v := range variants {
			table.Append(string(v.Kind), v.Signature, v.Selector.String())
		}
		table.Render()
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the oracle server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		h, err := c.Health(cmd.Context())
		if h == nil {
			return err
		}
		if done, perr := printStructured(h); done {
			if perr != nil {
				return perr
			}
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Status", h.Status)
		table.Append("Store", h.Store)
		table.Append("Owner", h.Owner.String())
		table.Append("Last Request", fmt.Sprintf("%d", h.LastID))
		table.Append("Consumers", fmt.Sprintf("%d", h.Consumers))
		table.Append("CPU", fmt.Sprintf("%.1f%% of %d cores", h.Host.CPUPercent, h.Host.CPUCount))
		table.Append("Memory", fmt.Sprintf("%.1f%%", h.Host.MemoryPercent))
		table.Render()
		return err
	},
}

func init() {
	rootCmd.AddCommand(consumersCmd, selectorsCmd, healthCmd)
	consumersCmd.AddCommand(consumersShowCmd)
}
