package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "migctl",
	Short: "Operator CLI for migrationworkerd",
	Long: `migctl submits schedule requests to a running migrationworkerd and
inspects migration status over its HTTP surface.`,
}

var (
	scheduleSchemaFile string
	scheduleStepsFile  string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [project-id]",
	Short: "Submit a new migration for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]

		schemaBytes, err := os.ReadFile(scheduleSchemaFile)
		if err != nil {
			return fmt.Errorf("reading schema file: %w", err)
		}

		var steps json.RawMessage
		if scheduleStepsFile != "" {
			steps, err = os.ReadFile(scheduleStepsFile)
			if err != nil {
				return fmt.Errorf("reading steps file: %w", err)
			}
		} else {
			steps = json.RawMessage("[]")
		}

		body := map[string]json.RawMessage{
			"schema": schemaBytes,
			"steps":  steps,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}

		url := fmt.Sprintf("%s/projects/%s/schedule", serverAddr, projectID)
		resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("submitting schedule request: %w", err)
		}
		defer resp.Body.Close()

		return printResponse(resp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [project-id] [revision]",
	Short: "Fetch a migration's terminal status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, revision := args[0], args[1]

		url := fmt.Sprintf("%s/projects/%s/migrations/%s", serverAddr, projectID, revision)
		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("fetching migration status: %w", err)
		}
		defer resp.Body.Close()

		return printResponse(resp)
	},
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "migrationworkerd HTTP address")

	scheduleCmd.Flags().StringVar(&scheduleSchemaFile, "schema", "", "path to a JSON file with the target schema (required)")
	scheduleCmd.Flags().StringVar(&scheduleStepsFile, "steps", "", "path to a JSON file with the ordered migration steps (default: empty)")
	scheduleCmd.MarkFlagRequired("schema")

	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statusCmd)
}
