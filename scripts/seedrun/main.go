// seedrun posts a scripted demo event sequence to a running Ordersight
// server, including the duplicate spellings and out-of-order batches the
// reconciliation layer exists to handle.
//
// Usage (run from the repo root, with a server on :8080):
//
//	go run scripts/seedrun/main.go
//	go run scripts/seedrun/main.go -url http://localhost:9090 -run demo-2
//
// Useful for exercising the dashboard and the SSE stream during
// development without a real upstream engine.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

type event struct {
	StageID  string   `json:"stage_id,omitempty"`
	Name     string   `json:"name,omitempty"`
	ToolName string   `json:"tool_name,omitempty"`
	Status   string   `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Output   any      `json:"output,omitempty"`
}

type batch struct {
	Events      []event `json:"events"`
	RunStatus   string  `json:"run_status,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	TotalStages int     `json:"total_stages,omitempty"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "ordersight server base URL")
	runID := flag.String("run", fmt.Sprintf("seed-%d", time.Now().Unix()), "run ID to seed")
	delay := flag.Duration("delay", 500*time.Millisecond, "pause between batches")
	flag.Parse()

	batches := []batch{
		{
			OrderID:     "ORD-SEED-1",
			TotalStages: 5,
			Events: []event{
				{ToolName: "OrderExtractionTool", Status: "started"},
				{Name: "order_extraction_tool", Status: "in_progress", Progress: ptr(30.0)},
			},
		},
		{
			Events: []event{
				// Third spelling of the same stage, now with data.
				{ToolName: "order_extraction", Status: "completed", Output: map[string]any{
					"buyer_email":      "seed@example.com",
					"item":             "standing desk",
					"quantity":         1,
					"delivery_address": "12 Harbor Way, Oakland CA",
					"total_price":      649.00,
				}},
				{ToolName: "validate_inventory", Status: "started"},
			},
		},
		{
			Events: []event{
				{ToolName: "validate_inventory", Status: "completed"},
				{ToolName: "stripe_payment", Status: "completed", Output: map[string]any{
					"payment_link": "https://checkout.stripe.com/c/pay/cs_seed_456",
				}},
				{ToolName: "blockchain_anchor", Status: "completed", Output: map[string]any{
					"tx_hash": "4f6e1c2b8a9d3e5f4f6e1c2b8a9d3e5f4f6e1c2b8a9d3e5f4f6e1c2b8a9d3e5f",
				}},
			},
		},
		{
			RunStatus: "completed",
			Events: []event{
				{Name: "Send Confirmation Email", Status: "completed"},
			},
		},
	}

	url := fmt.Sprintf("%s/v1/runs/%s/events", *baseURL, *runID)
	for i, b := range batches {
		if err := post(url, b); err != nil {
			fmt.Fprintf(os.Stderr, "error: batch %d: %v\n", i+1, err)
			os.Exit(1)
		}
		fmt.Printf("batch %d/%d sent (%d events)\n", i+1, len(batches), len(b.Events))
		time.Sleep(*delay)
	}

	fmt.Printf("\nseeded run %s\n", *runID)
	fmt.Printf("  state:      curl %s/v1/runs/%s\n", *baseURL, *runID)
	fmt.Printf("  completion: curl %s/v1/runs/%s/completion\n", *baseURL, *runID)
	fmt.Printf("  stream:     curl -N %s/v1/subscribe\n", *baseURL)
}

func post(url string, b batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
