package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/spf13/cobra"
)

var (
	eventsAfter  uint64
	eventsLimit  int
	eventsFollow bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the oracle event log",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Uint64Var(&eventsAfter, "after", 0, "only events with a sequence number greater than this")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "maximum number of events per page")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "wait for new events")
}

func runEvents(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var wait time.Duration
	if eventsFollow {
		wait = 20 * time.Second
	}

	cursor := eventsAfter
	for {
		page, err := c.WaitEvents(cmd.Context(), cursor, eventsLimit, wait)
		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		}
		if len(page.Events) > 0 || !eventsFollow {
			if err := printEvents(page.Events); err != nil {
				return err
			}
		}
		cursor = page.Next
		if !eventsFollow {
			return nil
		}
	}
}

func printEvents(events []models.Event) error {
	if done, err := printStructured(events); done {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seq", "Kind", "Request", "Detail", "At")
	for _, ev := range events {
		request := ""
		if ev.RequestID != 0 {
			request = fmt.Sprintf("%d", ev.RequestID)
		}
		table.Append(
			fmt.Sprintf("%d", ev.Seq),
			string(ev.Kind),
			request,
			eventDetail(ev),
			ev.CreatedAt.Local().Format(time.RFC3339),
		)
	}
	table.Render()
	return nil
}

func eventDetail(ev models.Event) string {
	switch ev.Kind {
	case models.EventRequestLogged:
		sel := ""
		if ev.Selector != nil {
			sel = handlerName(*ev.Selector)
		}
		return fmt.Sprintf("%s -> %s %s", ev.Requester.Short(), ev.Target.Short(), sel)
	case models.EventOwnershipTransferred:
		return fmt.Sprintf("%s -> %s", ev.OldOwner.Short(), ev.NewOwner.Short())
	}
	return ""
}
