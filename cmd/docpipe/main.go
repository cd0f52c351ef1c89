// Package main is the docpipe command line client. It talks to a running API
// server, which keeps the CLI free of Redis and storage wiring.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docpipe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docpipe",
		Short: "docpipe conversion service client",
		Long: `docpipe submits documents to a running conversion service, polls task
status, and inspects batches and queue statistics.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Base URL of the docpipe API")
	cmd.AddCommand(
		newSubmitCmd(),
		newUploadCmd(),
		newBatchCmd(),
		newStatusCmd(),
		newDeleteCmd(),
		newBatchStatusCmd(),
		newStatsCmd(),
	)
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var format, webhookURL string
	var embeddings bool
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a document URL for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"url": args[0],
				"options": map[string]any{
					"output_format":       format,
					"extract_tables":      true,
					"ocr_enabled":         true,
					"generate_embeddings": embeddings,
					"chunk_size":          512,
					"chunk_overlap":       50,
				},
			}
			if webhookURL != "" {
				body["webhook_url"] = webhookURL
			}
			return postJSON(cmd.Context(), "/convert", body)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "markdown", "Output format (markdown, json, text, doctags)")
	cmd.Flags().StringVarP(&webhookURL, "webhook", "w", "", "Callback URL invoked on completion")
	cmd.Flags().BoolVar(&embeddings, "embeddings", false, "Generate chunk embeddings")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local document for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			opts, _ := json.Marshal(map[string]any{
				"output_format": format,
				"chunk_size":    512,
				"chunk_overlap": 50,
			})
			if err := mw.WriteField("options", string(opts)); err != nil {
				return err
			}
			if err := mw.Close(); err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, serverURL+"/convert/upload", &buf)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return doRequest(req)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "markdown", "Output format")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var webhookURL string
	cmd := &cobra.Command{
		Use:   "batch <url>...",
		Short: "Submit several document URLs as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := make([]map[string]string, 0, len(args))
			for _, u := range args {
				inputs = append(inputs, map[string]string{"url": u})
			}
			body := map[string]any{"inputs": inputs}
			if webhookURL != "" {
				body["webhook_url"] = webhookURL
			}
			return postJSON(cmd.Context(), "/convert/batch", body)
		},
	}
	cmd.Flags().StringVarP(&webhookURL, "webhook", "w", "", "Callback URL invoked per task completion")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var wait bool
	var pollEvery time.Duration
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task record, optionally waiting for a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/tasks/" + args[0]
			if !wait {
				return getJSON(cmd.Context(), path)
			}
			for {
				status, err := fetchStatus(cmd.Context(), path)
				if err != nil {
					return err
				}
				if status == "completed" || status == "failed" {
					return getJSON(cmd.Context(), path)
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(pollEvery):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the task completes or fails")
	cmd.Flags().DurationVar(&pollEvery, "poll", 2*time.Second, "Polling interval used with --wait")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task record and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, serverURL+"/tasks/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNoContent {
				fmt.Println("deleted")
				return nil
			}
			return printResponse(resp)
		},
	}
}

func newBatchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch-status <batch-id>",
		Short: "Show a batch and its member tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd.Context(), "/batches/"+args[0])
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth per queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd.Context(), "/stats")
		},
	}
}

func postJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req)
}

func getJSON(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	return doRequest(req)
}

func doRequest(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		pretty.Write(data)
	}
	fmt.Println(pretty.String())
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func fetchStatus(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var rec struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return "", err
	}
	return rec.Status, nil
}
