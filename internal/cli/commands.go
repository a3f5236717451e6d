// Package cli provides the ctl commands for controlling a running
// Heimdall service over its REST API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// APIClient is a client for the Heimdall REST API.
type APIClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewCommands creates the ctl command tree.
func NewCommands() *cobra.Command {
	var apiURL string
	var apiToken string

	root := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running Heimdall service",
	}

	root.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:7390", "API server URL")
	root.PersistentFlags().StringVar(&apiToken, "token", "", "API authentication token")

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.ShowStatus()
		},
	}

	// Network command
	networkCmd := &cobra.Command{
		Use:   "network",
		Short: "Show the current network view",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.ShowNetwork()
		},
	}

	// Event commands
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Coordination event log commands",
	}

	var eventCount int
	eventsTailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent coordination events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.TailEvents(eventCount)
		},
	}
	eventsTailCmd.Flags().IntVarP(&eventCount, "count", "n", 20, "Number of events to show")

	eventsClearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.ClearEvents()
		},
	}

	eventsErrorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Show events that carried errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.ShowErrors()
		},
	}

	eventsCmd.AddCommand(eventsTailCmd, eventsClearCmd, eventsErrorsCmd)

	// Reset command
	var resetForce bool
	var resetReason string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Request an engine network-stack reset",
		Long: `Request an engine network-stack reset.

Example:
  heimdall ctl reset
  heimdall ctl reset --force --reason "stuck after resume"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.RequestReset(resetReason, resetForce)
		},
	}
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Bypass the reset debounce")
	resetCmd.Flags().StringVarP(&resetReason, "reason", "r", "manual request", "Reason recorded in the event log")

	// Health command
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiToken)
			return client.CheckHealth()
		},
	}

	root.AddCommand(statusCmd, networkCmd, eventsCmd, resetCmd, healthCmd)
	return root
}

func (c *APIClient) doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.Client.Do(req)
}

func (c *APIClient) getJSON(path string, v interface{}) error {
	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// ShowStatus displays the aggregated service status.
func (c *APIClient) ShowStatus() error {
	var status map[string]interface{}
	if err := c.getJSON("/api/v1/status", &status); err != nil {
		return err
	}

	fmt.Printf("Running: %v\n", status["running"])
	fmt.Printf("Version: %v\n", status["version"])
	fmt.Printf("Engine: %v (up: %v)\n", status["engine"], status["engine_up"])
	fmt.Printf("Uptime: %v\n", status["uptime"])
	fmt.Printf("Restarts: %v\n", status["restarts"])

	if link, ok := status["link_health"].(map[string]interface{}); ok {
		fmt.Printf("Link: %v\n", link["state"])
	}
	if trans, ok := status["transition"].(map[string]interface{}); ok {
		if bound, ok := trans["bound"].(map[string]interface{}); ok {
			fmt.Printf("Bound network: %v\n", bound["name"])
		} else {
			fmt.Println("Bound network: none")
		}
		fmt.Printf("Rebinds: %v (debounced %v, suppressed %v)\n",
			trans["rebinds"], trans["debounced"], trans["suppressed"])
	}
	if rst, ok := status["reset"].(map[string]interface{}); ok {
		fmt.Printf("Reset failures: %v (escalations %v)\n",
			rst["failures"], rst["escalations"])
	}
	if q, ok := status["queue"].(map[string]interface{}); ok {
		fmt.Printf("Queue: executed %v, failed %v, dropped %v\n",
			q["executed"], q["failed"], q["dropped"])
	}
	fmt.Printf("Events: %v\n", status["events"])

	return nil
}

// ShowNetwork displays the current network view.
func (c *APIClient) ShowNetwork() error {
	var network map[string]interface{}
	if err := c.getJSON("/api/v1/network", &network); err != nil {
		return err
	}

	if bound, ok := network["bound"].(map[string]interface{}); ok {
		fmt.Printf("Bound: %v (index %v)\n", bound["name"], bound["index"])
		if addrs, ok := bound["addresses"].([]interface{}); ok {
			for _, a := range addrs {
				fmt.Printf("  %v\n", a)
			}
		}
	} else {
		fmt.Println("Bound: none")
	}

	if obs, ok := network["observer"].(map[string]interface{}); ok {
		fmt.Printf("Observer active: %v\n", obs["active"])
		fmt.Printf("Tunnels visible: %v\n", obs["tunnel_count"])
		fmt.Printf("Evaluations: %v (changes %v, losses %v)\n",
			obs["evaluations"], obs["changes"], obs["losses"])
	}
	if fgn, ok := network["foreign"].(map[string]interface{}); ok {
		fmt.Printf("Foreign sightings: %v (snapshot %v)\n",
			fgn["sightings"], fgn["snapshot_size"])
	}

	return nil
}

// TailEvents shows recent coordination events.
func (c *APIClient) TailEvents(count int) error {
	var entries []map[string]interface{}
	if err := c.getJSON("/api/v1/events/last/"+strconv.Itoa(count), &entries); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCOMPONENT\tNETWORK\tREASON")

	for _, e := range entries {
		timestamp := ""
		if t, ok := e["timestamp"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				timestamp = parsed.Format("15:04:05")
			}
		}
		typ := e["type"]
		component := e["component"]
		network := e["network"]
		reason := e["reason"]
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\t%v\n", timestamp, typ, component, network, reason)
	}

	return w.Flush()
}

// ClearEvents clears the event log.
func (c *APIClient) ClearEvents() error {
	resp, err := c.doRequest("DELETE", "/api/v1/events/", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clear failed: %s - %s", resp.Status, string(body))
	}

	fmt.Println("Event log cleared")
	return nil
}

// ShowErrors shows events that carried errors.
func (c *APIClient) ShowErrors() error {
	var entries []map[string]interface{}
	if err := c.getJSON("/api/v1/events/errors", &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No errors recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCOMPONENT\tERROR")

	for _, e := range entries {
		timestamp := ""
		if t, ok := e["timestamp"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				timestamp = parsed.Format("15:04:05")
			}
		}
		typ := e["type"]
		component := e["component"]
		errMsg := e["error"]
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", timestamp, typ, component, errMsg)
	}

	return w.Flush()
}

// RequestReset asks the service for a network-stack reset.
func (c *APIClient) RequestReset(reason string, force bool) error {
	payload, err := json.Marshal(map[string]interface{}{
		"reason": reason,
		"force":  force,
	})
	if err != nil {
		return err
	}

	resp, err := c.doRequest("POST", "/api/v1/reset", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reset failed: %s - %s", resp.Status, string(body))
	}

	if force {
		fmt.Println("Forced reset requested")
	} else {
		fmt.Println("Reset requested")
	}
	return nil
}

// CheckHealth checks service health.
func (c *APIClient) CheckHealth() error {
	var health map[string]interface{}
	if err := c.getJSON("/api/v1/health", &health); err != nil {
		return err
	}

	fmt.Printf("Health: %v\n", health["status"])
	fmt.Printf("Time: %v\n", health["time"])
	return nil
}
