// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command boltzgenqueuectl is an administrative client for boltzgend:
// it submits, inspects, and cancels jobs against the daemon's HTTP
// request surface.
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
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	flagServerAddr string
	flagOutputFmt  string

	printer = message.NewPrinter(language.English)

	rootCmd = &cobra.Command{
		Use:   "boltzgenqueuectl",
		Short: "Administrative client for the boltzgend job queue",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerAddr, "server", "http://127.0.0.1:8765", "daemon base URL (env: BOLTZGEN_QUEUE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&flagOutputFmt, "output", "o", "table", "output format: table, json")

	if addr := os.Getenv("BOLTZGEN_QUEUE_SERVER"); addr != "" {
		flagServerAddr = addr
	}

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(resourcesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiCall(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(flagServerAddr, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			ErrorMessage string `json:"error_message"`
			Error        string `json:"error"`
		}
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr == nil && envelope.ErrorMessage != "" {
			return fmt.Errorf("%s: %s", envelope.Error, envelope.ErrorMessage)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}

	return json.Unmarshal(data, out)
}

func printResult(v any) {
	if flagOutputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
	}
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a design job to the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, _ := cmd.Flags().GetString("config")
		output, _ := cmd.Flags().GetString("output")
		protocol, _ := cmd.Flags().GetString("protocol")
		numDesigns, _ := cmd.Flags().GetInt("num-designs")
		budget, _ := cmd.Flags().GetInt("budget")
		jobName, _ := cmd.Flags().GetString("job-name")

		var resp struct {
			JobID         string `json:"job_id"`
			QueuePosition int    `json:"queue_position"`
			QueueLength   int    `json:"queue_length"`
		}
		err := apiCall(http.MethodPost, "/submit", map[string]any{
			"config": config, "output": output, "protocol": protocol,
			"num_designs": numDesigns, "budget": budget, "job_name": jobName,
		}, &resp)
		if err != nil {
			return err
		}

		if flagOutputFmt == "table" {
			printer.Printf("Job %s queued at position %d of %d\n", resp.JobID, resp.QueuePosition, resp.QueueLength)
		} else {
			printResult(resp)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().String("config", "", "path to the design config file (required)")
	submitCmd.Flags().String("output", "", "output directory (required)")
	submitCmd.Flags().String("protocol", "", "design protocol (required)")
	submitCmd.Flags().Int("num-designs", 1, "number of designs to generate")
	submitCmd.Flags().Int("budget", 0, "compute budget")
	submitCmd.Flags().String("job-name", "", "human-readable job name")
	submitCmd.MarkFlagRequired("config")
	submitCmd.MarkFlagRequired("output")
	submitCmd.MarkFlagRequired("protocol")
}

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show a job's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := apiCall(http.MethodGet, "/job_status?job_id="+args[0], nil, &resp); err != nil {
			return err
		}
		if flagOutputFmt == "json" {
			printResult(resp)
			return nil
		}
		for _, key := range []string{"job_id", "job_status", "queue_position", "device_id", "output_dir", "error"} {
			if v, ok := resp[key]; ok && v != nil && v != "" {
				printer.Printf("%-16s %v\n", key+":", v)
			}
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show overall queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			QueueLength      int `json:"queue_length"`
			RunningCount     int `json:"running_count"`
			MaxWorkers       int `json:"max_workers"`
			AvailableDevices int `json:"available_devices"`
			TotalDevices     int `json:"total_devices"`
		}
		if err := apiCall(http.MethodGet, "/queue_status", nil, &resp); err != nil {
			return err
		}
		if flagOutputFmt == "json" {
			printResult(resp)
			return nil
		}
		printer.Printf("Queued:    %d\n", resp.QueueLength)
		printer.Printf("Running:   %d / %d workers\n", resp.RunningCount, resp.MaxWorkers)
		printer.Printf("Devices:   %d free of %d\n", resp.AvailableDevices, resp.TotalDevices)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Message string `json:"message"`
		}
		if err := apiCall(http.MethodPost, "/cancel", map[string]string{"job_id": args[0]}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Reconfigure the queue's concurrency cap and/or device pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("max-workers") {
			maxWorkers, _ := cmd.Flags().GetInt("max-workers")
			body["max_workers"] = maxWorkers
		}
		if cmd.Flags().Changed("gpu-ids") {
			gpuIDs, _ := cmd.Flags().GetString("gpu-ids")
			body["device_ids"] = gpuIDs
		}
		var resp struct {
			MaxWorkers int      `json:"max_workers"`
			DeviceIDs  []string `json:"device_ids"`
		}
		if err := apiCall(http.MethodPost, "/configure_queue", body, &resp); err != nil {
			return err
		}
		printer.Printf("max_workers=%d device_ids=%s\n", resp.MaxWorkers, strings.Join(resp.DeviceIDs, ","))
		return nil
	},
}

func init() {
	configureCmd.Flags().Int("max-workers", 0, "new concurrency cap")
	configureCmd.Flags().String("gpu-ids", "", "new comma-separated device id list")
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Show coarse resource occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			IsIdle        bool `json:"is_idle"`
			ResourceUsage struct {
				JobsInMemory     int `json:"jobs_in_memory"`
				QueuedJobs       int `json:"queued_jobs"`
				RunningJobs      int `json:"running_jobs"`
				DevicesInUse     int `json:"devices_in_use"`
				DevicesAvailable int `json:"devices_available"`
			} `json:"resource_usage"`
		}
		if err := apiCall(http.MethodGet, "/resource_status", nil, &resp); err != nil {
			return err
		}
		if flagOutputFmt == "json" {
			printResult(resp)
			return nil
		}
		printer.Printf("Idle:       %v\n", resp.IsIdle)
		printer.Printf("In memory:  %d\n", resp.ResourceUsage.JobsInMemory)
		printer.Printf("Queued:     %d\n", resp.ResourceUsage.QueuedJobs)
		printer.Printf("Running:    %d\n", resp.ResourceUsage.RunningJobs)
		printer.Printf("Devices:    %d in use, %d available\n", resp.ResourceUsage.DevicesInUse, resp.ResourceUsage.DevicesAvailable)
		return nil
	},
}
