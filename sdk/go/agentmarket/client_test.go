package agentmarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestExecuteSendsBearerKey(t *testing.T) {
	executed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/execute" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer amk_secret" {
			t.Fatalf("expected bearer key, got %q", got)
		}
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.TaskType != "api_consumer" {
			t.Fatalf("unexpected task type: %s", req.TaskType)
		}
		executed = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ExecuteResult{
			ExecutionID: "exec-1",
			Status:      "pending",
			Agent:       AgentInfo{ID: "worker-1", Type: "api_consumer"},
			Cost:        Cost{Amount: decimal.NewFromInt(10), Currency: "credits"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("amk_secret")

	result, err := client.Execute(context.Background(), ExecuteRequest{TaskType: "api_consumer"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !executed {
		t.Fatal("execution was not submitted")
	}
	if result.ExecutionID != "exec-1" || result.Status != "pending" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.Cost.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected cost: %s", result.Cost.Amount)
	}
}

func TestExecuteRequiresKey(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Execute(context.Background(), ExecuteRequest{TaskType: "api_consumer"}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestStatusDecodesTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status/exec-7" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ExecutionStatus{
			Execution: Execution{ID: "exec-7", AgentID: "worker-1", Status: "completed"},
			Steps: []Step{
				{Step: "validate_request", Status: "completed"},
				{Step: "call_target_api", Status: "completed", DurationMs: 120},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	status, err := client.Status(context.Background(), "exec-7")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Execution.Status != "completed" || len(status.Steps) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestExecuteBudgetError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(struct {
			Error APIError `json:"error"`
		}{Error: APIError{Code: "BUDGET_EXHAUSTED", Message: "daily budget exhausted"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("amk_secret")

	_, err = client.Execute(context.Background(), ExecuteRequest{TaskType: "api_consumer"})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "BUDGET_EXHAUSTED" || apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestBalanceAndSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/balance":
			if r.Header.Get("Authorization") != "Bearer amk_secret" {
				t.Fatalf("expected bearer key, got %q", r.Header.Get("Authorization"))
			}
			_ = json.NewEncoder(w).Encode(Balance{
				KeyID:            "key-1",
				RemainingBudget:  decimal.NewFromInt(990),
				RecentExecutions: []string{"exec-1"},
			})
		case "/v1/signals":
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("unexpected body: %v", err)
			}
			if payload["action"] != "scan" {
				t.Fatalf("unexpected action: %v", payload["action"])
			}
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("amk_secret")

	balance, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.KeyID != "key-1" || !balance.RemainingBudget.Equal(decimal.NewFromInt(990)) {
		t.Fatalf("unexpected balance: %+v", balance)
	}

	if err := client.SubmitSignal(context.Background(), SignalSubmission{
		Source:  "twitter",
		Keyword: "weather",
		Text:    "need a weather api",
		Volume:  120,
	}); err != nil {
		t.Fatalf("submit signal: %v", err)
	}
}
