package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveHTTPRequestRendered(t *testing.T) {
	ObserveHTTPRequest("render-probe", http.MethodPost, http.StatusAccepted, 80*time.Millisecond)
	ObserveHTTPRequest("render-probe", http.MethodPost, http.StatusInternalServerError, 10*time.Millisecond)

	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := recorder.Body.String()
	if !strings.Contains(body,
		`agentmarket_http_requests_total{handler="render-probe",method="POST",code="202"} 1`) {
		t.Fatalf("缺少请求计数指标: %s", body)
	}
	if !strings.Contains(body,
		`agentmarket_http_request_errors_total{handler="render-probe",method="POST"} 1`) {
		t.Fatalf("缺少错误计数指标: %s", body)
	}
	if !strings.Contains(body,
		`agentmarket_http_request_duration_seconds_count{handler="render-probe",method="POST"} 2`) {
		t.Fatalf("缺少延迟直方图计数: %s", body)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	wrapped := Instrument("instrument-probe", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	recorder := httptest.NewRecorder()
	wrapped.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/execute", nil))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("状态码透传失败: %d", recorder.Code)
	}

	body := httptest.NewRecorder()
	Handler().ServeHTTP(body, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(body.Body.String(),
		`agentmarket_http_requests_total{handler="instrument-probe",method="GET",code="429"} 1`) {
		t.Fatalf("包装器未记录状态码: %s", body.Body.String())
	}
}
