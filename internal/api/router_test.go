package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dqinsight/internal/chart"
	"dqinsight/internal/llm"
	"dqinsight/internal/orchestrator"
)

type fakeAsker struct {
	calls []orchestrator.Request
	res   *orchestrator.Result
	err   error
	// deadline records whether the context carried a deadline.
	deadline bool
}

func (f *fakeAsker) Ask(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.calls = append(f.calls, req)
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func newTestRouter(asker Asker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(Options{Asker: asker, MaxQueryLength: 20, Provider: "gemini"})
}

func postAsk(r http.Handler, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := newTestRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","provider":"gemini"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestAsk_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"missing query", `{}`},
		{"blank query", `{"query":"   "}`},
		{"too long", `{"query":"` + strings.Repeat("é", 21) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &fakeAsker{}
			w := postAsk(newTestRouter(asker), tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, asker.calls, "pipeline must not run on invalid input")
			assert.Empty(t, w.Header().Get(HeaderOutcome))
		})
	}
}

func TestAsk_QueryAtLimitAccepted(t *testing.T) {
	asker := &fakeAsker{res: &orchestrator.Result{
		Response: chart.Clarification("which table?"),
		Outcome:  orchestrator.StateClarification,
	}}
	w := postAsk(newTestRouter(asker), `{"query":"`+strings.Repeat("é", 20)+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, asker.calls, 1)
}

func TestAsk_Success(t *testing.T) {
	resp := &chart.Response{
		ChartType: chart.TypeLine,
		Title:     "Errors by day",
		Data:      []map[string]any{{"day": "mon", "errors": 3.0}},
		Config:    chart.Config{XAxis: "day", YAxis: []string{"errors"}},
		Filters:   []chart.Filter{},
	}
	asker := &fakeAsker{res: &orchestrator.Result{Response: resp, Outcome: orchestrator.StateSuccess, RequestID: "abc"}}

	w := postAsk(newTestRouter(asker), `{"query":" errors by day "}`, HeaderRequestID, "abc")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Header().Get(HeaderOutcome))
	assert.Equal(t, "abc", w.Header().Get(HeaderRequestID))

	var got chart.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, *resp, got)

	require.Len(t, asker.calls, 1)
	assert.Equal(t, "errors by day", asker.calls[0].Query)
	assert.Equal(t, "abc", asker.calls[0].RequestID)
	assert.False(t, asker.calls[0].NoDataset)
	assert.False(t, asker.deadline)
}

func TestAsk_SentinelIsOK(t *testing.T) {
	asker := &fakeAsker{res: &orchestrator.Result{
		Response: chart.GenericError("q"),
		Outcome:  orchestrator.StateGenericError,
	}}
	w := postAsk(newTestRouter(asker), `{"query":"q"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "generic_error_response", w.Header().Get(HeaderOutcome))
}

func TestAsk_UseDatasetFalse(t *testing.T) {
	asker := &fakeAsker{res: &orchestrator.Result{Response: chart.Clarification("x"), Outcome: orchestrator.StateClarification}}
	postAsk(newTestRouter(asker), `{"query":"q","useDataset":false}`)

	require.Len(t, asker.calls, 1)
	assert.True(t, asker.calls[0].NoDataset)
	assert.NotEmpty(t, asker.calls[0].RequestID, "a request ID is minted when none is sent")
}

func TestAsk_RequestTimeoutApplied(t *testing.T) {
	gin.SetMode(gin.TestMode)
	asker := &fakeAsker{res: &orchestrator.Result{Response: chart.Clarification("x"), Outcome: orchestrator.StateClarification}}
	r := SetupRouter(Options{Asker: asker, RequestTimeout: time.Minute})

	postAsk(r, `{"query":"q"}`)
	assert.True(t, asker.deadline)
}

func TestAsk_ErrorStatuses(t *testing.T) {
	llmErr := func(k llm.Kind) error {
		return &llm.Error{Kind: k, Provider: "gemini", Op: "generate", Err: errors.New("upstream")}
	}
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"config", llmErr(llm.KindConfig), http.StatusInternalServerError, "config"},
		{"structural", &chart.StructuralError{Reason: chart.ReasonMissingAxis}, http.StatusBadGateway, "structural"},
		{"wrapped structural", fmt.Errorf("step2: %w", &chart.StructuralError{Reason: "x"}), http.StatusBadGateway, "structural"},
		{"empty content", llmErr(llm.KindEmptyContent), http.StatusBadGateway, "empty_content"},
		{"bad request", llmErr(llm.KindBadRequest), http.StatusBadGateway, "bad_request"},
		{"unknown", llmErr(llm.KindUnknown), http.StatusBadGateway, "unknown"},
		{"rate limited", llmErr(llm.KindRateLimited), http.StatusServiceUnavailable, "rate_limited"},
		{"transient", llmErr(llm.KindTransient), http.StatusServiceUnavailable, "transient"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postAsk(newTestRouter(&fakeAsker{err: tt.err}), `{"query":"q"}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "failed", w.Header().Get(HeaderOutcome))

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotContains(t, body["error"], "upstream", "provider detail must not leak")
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, statusClientClosedRequest, StatusFor(context.Canceled))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(fmt.Errorf("run: %w", context.DeadlineExceeded)))
}

func TestAsk_NoAsker(t *testing.T) {
	w := postAsk(newTestRouter(nil), `{"query":"q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
