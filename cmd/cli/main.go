package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	provider    string
	timeout     string
	maxAttempts int
	outcome     string
)

func main() {
	root := &cobra.Command{
		Use:   "manim-cli",
		Short: "CLI client for the Manim video generator",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")

	// Generate a script from a description
	genCmd := &cobra.Command{
		Use:   "generate [description]",
		Short: "Generate a Manim script from a description",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGenerate,
	}
	genCmd.Flags().StringVarP(&provider, "provider", "p", "", "Force a specific AI provider (gemini, azure)")
	root.AddCommand(genCmd)

	// Render a script
	renderCmd := &cobra.Command{
		Use:   "render [script]",
		Short: "Render a Manim script (inline text, or stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRender,
	}
	renderCmd.Flags().StringVar(&timeout, "timeout", "", "Per-attempt timeout override")
	renderCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Cap the retry budget below the server default")
	root.AddCommand(renderCmd)

	// Render from a file
	renderFileCmd := &cobra.Command{
		Use:   "render-file [file]",
		Short: "Render a Manim script from a .py file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRenderFile,
	}
	renderFileCmd.Flags().StringVar(&timeout, "timeout", "", "Per-attempt timeout override")
	renderFileCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Cap the retry budget below the server default")
	root.AddCommand(renderFileCmd)

	// Render a stored script by ID
	renderIDCmd := &cobra.Command{
		Use:   "render-id [script-id]",
		Short: "Render a previously generated script by its ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runRenderID,
	}
	root.AddCommand(renderIDCmd)

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	// List runs
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent execution runs",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome (succeeded, failed)")
	root.AddCommand(listCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(_ *cobra.Command, args []string) error {
	payload := map[string]any{
		"description": strings.Join(args, " "),
	}
	if provider != "" {
		payload["provider"] = provider
	}
	return postAndPrint("/scripts", payload, 3*time.Minute)
}

func runRender(_ *cobra.Command, args []string) error {
	var content string

	if len(args) > 0 {
		content = args[0]
	} else {
		// Read from stdin
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content = string(data)
	}

	return renderContent(content)
}

func runRenderFile(_ *cobra.Command, args []string) error {
	if !strings.HasSuffix(args[0], ".py") {
		return fmt.Errorf("expected a .py file, got %q", args[0])
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return renderContent(string(data))
}

func runRenderID(_ *cobra.Command, args []string) error {
	return postAndPrint("/render", map[string]any{"script_id": args[0]}, time.Hour)
}

func renderContent(content string) error {
	payload := map[string]any{
		"content": content,
	}
	if timeout != "" {
		payload["timeout"] = timeout
	}
	if maxAttempts > 0 {
		payload["max_attempts"] = maxAttempts
	}
	return postAndPrint("/render", payload, time.Hour)
}

func postAndPrint(path string, payload map[string]any, clientTimeout time.Duration) error {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Render runs can take a long time: the server retries up to its
	// attempt budget before answering.
	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Pretty print
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	// Non-zero exit when the render failed so scripts can chain on success
	if success, ok := result["success"].(bool); ok && !success {
		os.Exit(1)
	}

	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	url := serverURL + "/runs"
	if outcome != "" {
		url += "?outcome=" + outcome
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
