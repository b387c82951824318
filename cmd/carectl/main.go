// Package main implements the carectl CLI for manual operations against
// the careloopd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// defaultServerURL matches careloopd's default listen address.
const defaultServerURL = "http://localhost:9180"

var (
	// serverURL is the base URL for the careloopd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "carectl",
	Short: "CLI for careloopd HTTP server operations",
	Long: `carectl is a command-line interface for interacting with the careloopd
HTTP server. It provides commands for checking server health, viewing the
operational snapshot, querying learning analytics, and submitting
enrichment jobs.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "careloopd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(enrichCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check careloopd server health",
	Long: `Check the health status of the careloopd HTTP server.

Examples:
  # Check health
  carectl health

  # Check health on a different server
  carectl health --server http://localhost:9090`,
	RunE: runHealth,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show the operational snapshot",
	Long: `Fetch the operational snapshot: queue depth, pipeline counters,
recent failures, circuit breaker states, and effective configuration.

Examples:
  carectl snapshot`,
	RunE: runSnapshot,
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics [sections]",
	Short: "Query learning analytics",
	Long: `Query aggregate learning analytics. Pass a comma-separated list of
sections to limit the response; with no argument all sections are returned.
Sections: themes, parameters, quality, strategies, modes.

Examples:
  # Everything
  carectl analytics

  # Only themes and strategies
  carectl analytics themes,strategies`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalytics,
}

var enrichCmd = &cobra.Command{
	Use:   "enrich <kind> <subject-id>",
	Short: "Submit an enrichment job",
	Long: `Submit an enrichment job for a conversation or profile. Kind is
summarize or embed. For summarize, a transcript can be piped on stdin.

Examples:
  # Queue a summarization with its transcript
  cat transcript.txt | carectl enrich summarize conv-42

  # Queue a profile embedding
  carectl enrich embed patient-7`,
	Args: cobra.ExactArgs(2),
	RunE: runEnrich,
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// EnrichResponse matches internal/http/server.go EnrichResponse
type EnrichResponse struct {
	JobID string `json:"jobId"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", serverURL, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	return getAndPrint(serverURL + "/api/v1/snapshot")
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	u := serverURL + "/api/v1/analytics"
	if len(args) == 1 && args[0] != "" {
		u += "?sections=" + url.QueryEscape(args[0])
	}
	return getAndPrint(u)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	kind, subjectID := args[0], args[1]

	payload := map[string]string{
		"kind":      kind,
		"subjectId": subjectID,
	}

	// A transcript piped on stdin rides along with summarize jobs.
	if kind == "summarize" {
		if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			text, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read from stdin: %w", err)
			}
			if trimmed := strings.TrimSpace(string(text)); trimmed != "" {
				payload["text"] = string(text)
			}
		}
	}

	reqJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(serverURL+"/api/v1/enrich", "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var enrichResp EnrichResponse
		if err := json.NewDecoder(resp.Body).Decode(&enrichResp); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		fmt.Printf("Queued job %s\n", enrichResp.JobID)
		return nil
	case http.StatusTooManyRequests:
		return fmt.Errorf("enrichment queue is full, retry later")
	default:
		return statusError(resp)
	}
}

// getAndPrint fetches a JSON endpoint and pretty-prints the body.
func getAndPrint(u string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(u)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		// Not JSON; print as-is.
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
