package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"gopkg.in/yaml.v3"
)

// printStructured writes v as JSON or YAML and reports whether it did
func printStructured(v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return true, nil
	case "yaml":
		// Round-trip through JSON so the yaml keys match the API field names
		data, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to marshal: %w", err)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return true, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(out))
		return true, nil
	case "table", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", outputFormat)
}

func printRequests(reqs []*models.Request) error {
	if done, err := printStructured(reqs); done {
		return err
	}
	if len(reqs) == 0 {
		fmt.Println("No requests found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Requester", "Target", "Handler", "Created")
	for _, r := range reqs {
		table.Append(
			fmt.Sprintf("%d", r.ID),
			string(r.Status),
			r.Requester.Short(),
			r.Target.Short(),
			handlerName(r.Selector),
			r.CreatedAt.Local().Format(time.RFC3339),
		)
	}
	table.Render()
	return nil
}

func printRequest(r *models.Request) error {
	if done, err := printStructured(r); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", fmt.Sprintf("%d", r.ID))
	table.Append("UID", r.UID)
	table.Append("Status", string(r.Status))
	table.Append("Requester", r.Requester.String())
	table.Append("Target", r.Target.String())
	table.Append("Selector", fmt.Sprintf("%s (%s)", r.Selector, handlerName(r.Selector)))
	table.Append("Created At", r.CreatedAt.Local().Format(time.RFC3339))
	if r.ExpiresAt != nil {
		table.Append("Expires At", r.ExpiresAt.Local().Format(time.RFC3339))
	}
	if r.ClosedAt != nil {
		table.Append("Closed At", r.ClosedAt.Local().Format(time.RFC3339))
	}
	if len(r.Payload) > 0 {
		table.Append("Payload", fmt.Sprintf("0x%x", r.Payload))
	}
	table.Render()
	return nil
}

func handlerName(s models.Selector) string {
	if v, ok := models.LookupHandler(s); ok {
		return v.Signature
	}
	return "unknown"
}
