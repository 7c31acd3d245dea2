package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/types"
)

type stubClient struct {
	calls     int
	failUntil int
	resp      types.LLMResponse
	err       error
}

func (s *stubClient) Generate(_ context.Context, system, user string, metadata map[string]any) (types.LLMResponse, error) {
	s.calls++
	if s.calls <= s.failUntil {
		return types.LLMResponse{}, errors.New("transient failure")
	}
	return s.resp, s.err
}

func noSleep(time.Duration) {}

func TestExecutor_SucceedsOnFirstAttempt(t *testing.T) {
	client := &stubClient{resp: types.LLMResponse{Content: "ok"}}
	e := NewExecutor(client, nil, RetryConfig{MaxAttempts: 3}, nil, nil)
	e.sleep = noSleep

	resp, err := e.Execute(context.Background(), "hi", nil, "sys")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	require.NotNil(t, resp.Retry)
	assert.Equal(t, 1, resp.Retry.Attempts)
	assert.Equal(t, 1, client.calls)
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	client := &stubClient{failUntil: 2, resp: types.LLMResponse{Content: "ok"}}
	e := NewExecutor(client, nil, RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, nil, nil)
	e.sleep = noSleep

	resp, err := e.Execute(context.Background(), "hi", nil, "sys")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Retry.Attempts)
	assert.Len(t, resp.Retry.History, 3)
	assert.Equal(t, "error", resp.Retry.History[0].Status)
	assert.Equal(t, "success", resp.Retry.History[2].Status)
}

func TestExecutor_ExhaustsRetriesAndReturnsRetryExhaustedError(t *testing.T) {
	client := &stubClient{failUntil: 10}
	e := NewExecutor(client, nil, RetryConfig{MaxAttempts: 3}, nil, nil)
	e.sleep = noSleep

	_, err := e.Execute(context.Background(), "hi", nil, "sys")
	require.Error(t, err)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.History, 3)
	assert.Equal(t, 3, client.calls)
}

func TestExecutor_AfterResponseRunsInReverseOrder(t *testing.T) {
	var order []string
	mw1 := &orderTrackingMiddleware{name: "first", order: &order}
	mw2 := &orderTrackingMiddleware{name: "second", order: &order}

	client := &stubClient{resp: types.LLMResponse{Content: "ok"}}
	e := NewExecutor(client, []Middleware{mw1, mw2}, RetryConfig{MaxAttempts: 1}, nil, nil)
	e.sleep = noSleep

	_, err := e.Execute(context.Background(), "hi", nil, "sys")
	require.NoError(t, err)
	assert.Equal(t, []string{"before:first", "before:second", "after:second", "after:first"}, order)
}

type orderTrackingMiddleware struct {
	name  string
	order *[]string
}

func (m *orderTrackingMiddleware) Name() string { return m.name }
func (m *orderTrackingMiddleware) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	*m.order = append(*m.order, "before:"+m.name)
	return req, nil
}
func (m *orderTrackingMiddleware) AfterResponse(_ context.Context, req *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error) {
	*m.order = append(*m.order, "after:"+m.name)
	return resp, nil
}
