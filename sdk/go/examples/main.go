package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/shopspring/decimal"

	"AgentMarket/sdk/go/agentmarket"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(agentmarket.ExecuteResult{
			ExecutionID: "exec-demo",
			Status:      "pending",
			Agent:       agentmarket.AgentInfo{ID: "worker-1", Name: "demo worker", Type: "api_consumer"},
			Cost:        agentmarket.Cost{Amount: decimal.NewFromInt(10), Currency: "credits"},
		})
	})
	mux.HandleFunc("/v1/status/exec-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(agentmarket.ExecutionStatus{
			Execution: agentmarket.Execution{ID: "exec-demo", AgentID: "worker-1", Status: "completed"},
			Steps: []agentmarket.Step{
				{Step: "validate_request", Status: "completed", DurationMs: 5},
				{Step: "call_target_api", Status: "completed", DurationMs: 140},
			},
		})
	})
	mux.HandleFunc("/v1/balance", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(agentmarket.Balance{
			KeyID:            "key-demo",
			DailyBudget:      decimal.NewFromInt(1000),
			RemainingBudget:  decimal.NewFromInt(990),
			RecentExecutions: []string{"exec-demo"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agentmarket.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("amk_demo_secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Execute(ctx, agentmarket.ExecuteRequest{
		TaskType: "api_consumer",
		Payload:  map[string]string{"city": "Shanghai"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted execution %s (status=%s cost=%s)\n", result.ExecutionID, result.Status, result.Cost.Amount)

	status, err := client.Status(ctx, result.ExecutionID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("execution %s finished with %d steps (status=%s)\n",
		status.Execution.ID, len(status.Steps), status.Execution.Status)

	balance, err := client.Balance(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("key %s remaining budget %s\n", balance.KeyID, balance.RemainingBudget)
}
