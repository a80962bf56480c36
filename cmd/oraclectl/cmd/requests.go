package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/client"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/spf13/cobra"
)

var (
	listStatus    string
	listRequester string
	listTarget    string
	listLimit     int
	followStatus  bool
	payloadText   bool
)

var requestsCmd = &cobra.Command{
	Use:     "requests",
	Aliases: []string{"req"},
	Short:   "Submit and inspect oracle requests",
}

var requestsSubmitCmd = &cobra.Command{
	Use:   "submit <target> <selector>",
	Short: "Log a new request",
	Long: `Logs a request for data to be delivered to <target>. The selector is either
a handler name (value, bytes32, price, text) or a raw 0x-prefixed 4-byte selector.`,
	Args: cobra.ExactArgs(2),
	RunE: runRequestsSubmit,
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests",
	Args:  cobra.NoArgs,
	RunE:  runRequestsList,
}

var requestsStatusCmd = &cobra.Command{
	Use:   "status <id|uid>",
	Short: "Show one request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestsStatus,
}

var requestsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending request you logged",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestsCancel,
}

var fulfillCmd = &cobra.Command{
	Use:   "fulfill <id> <payload>",
	Short: "Fulfill a request as the owner",
	Long: `Delivers <payload> to the target of request <id>. The payload is hex
(0x prefix optional) unless --text is given, in which case it is sent as UTF-8.`,
	Args: cobra.ExactArgs(2),
	RunE: runFulfill,
}

func init() {
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(fulfillCmd)
	requestsCmd.AddCommand(requestsSubmitCmd, requestsListCmd, requestsStatusCmd, requestsCancelCmd)

	requestsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: pending, fulfilled, cancelled, expired")
	requestsListCmd.Flags().StringVar(&listRequester, "requester", "", "filter by requester identity")
	requestsListCmd.Flags().StringVar(&listTarget, "target", "", "filter by target identity")
	requestsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of requests")

	requestsStatusCmd.Flags().BoolVarP(&followStatus, "follow", "f", false, "poll until the request is closed")

	fulfillCmd.Flags().BoolVar(&payloadText, "text", false, "treat the payload as UTF-8 text")
}

func runRequestsSubmit(cmd *cobra.Command, args []string) error {
	if err := requireIdentity(); err != nil {
		return err
	}
	target, err := models.ParseIdentity(args[0])
	if err != nil {
		return err
	}
	selector, err := models.ParseSelector(args[1])
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	req, err := c.SubmitRequest(cmd.Context(), target, selector)
	if err != nil {
		return err
	}
	if err := printRequest(req); err != nil {
		return err
	}
	if outputFormat == "table" {
		fmt.Printf("\nRequest logged! ID %d\n", req.ID)
	}
	return nil
}

func runRequestsList(cmd *cobra.Command, args []string) error {
	filter := client.ListFilter{Limit: listLimit}
	status, err := models.ParseRequestStatus(listStatus)
	if err != nil {
		return err
	}
	filter.Status = status
	if listRequester != "" {
		if filter.Requester, err = models.ParseIdentity(listRequester); err != nil {
			return err
		}
	}
	if listTarget != "" {
		if filter.Target, err = models.ParseIdentity(listTarget); err != nil {
			return err
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	reqs, err := c.ListRequests(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printRequests(reqs)
}

func runRequestsStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	if !followStatus {
		req, err := c.GetRequest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printRequest(req)
	}

	fmt.Printf("Following request %s (press Ctrl+C to stop)...\n\n", args[0])
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		req, err := c.GetRequest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if req.Status != models.RequestStatusPending {
			return printRequest(req)
		}
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runRequestsCancel(cmd *cobra.Command, args []string) error {
	if err := requireIdentity(); err != nil {
		return err
	}
	id, err := parseNonce(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	req, err := c.Cancel(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printRequest(req)
}

func runFulfill(cmd *cobra.Command, args []string) error {
	if err := requireIdentity(); err != nil {
		return err
	}
	id, err := parseNonce(args[0])
	if err != nil {
		return err
	}

	payload := []byte(args[1])
	if !payloadText {
		payload, err = hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
		if err != nil {
			return fmt.Errorf("payload is not hex (use --text for strings): %w", err)
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	req, err := c.Fulfill(cmd.Context(), id, payload)
	if err != nil {
		return err
	}
	return printRequest(req)
}

func parseNonce(s string) (models.Nonce, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("request id %q is not a number", s)
	}
	return id, nil
}
