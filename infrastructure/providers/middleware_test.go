package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRetryMiddleware_SuccessOnFirstAttempt(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RetryMiddleware(3, 10*time.Millisecond, time.Second)(mock)

	response, tokensIn, tokensOut, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.NoError(t, err)
	assert.Equal(t, "test response", response)
	assert.Equal(t, 10, tokensIn)
	assert.Equal(t, 20, tokensOut)
	assert.Equal(t, 1, mock.GetCallCount(), "should only call once on success")
}

func TestRetryMiddleware_RetriesOnTransientError(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	wrapped := RetryMiddleware(3, time.Millisecond, 100*time.Millisecond)(mock)

	response, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.NoError(t, err, "should eventually succeed")
	assert.Equal(t, "test response", response)
	assert.Equal(t, 3, mock.GetCallCount(), "should retry until success")
}

func TestRetryMiddleware_FailsAfterMaxRetries(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("persistent error")
	wrapped := RetryMiddleware(2, time.Millisecond, 100*time.Millisecond)(mock)

	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistent error")
	assert.Equal(t, 3, mock.GetCallCount(), "should attempt max retries + 1")
}

func TestRetryMiddleware_DoesNotRetryNonRetryableErrors(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)
	wrapped := RetryMiddleware(3, time.Millisecond, 100*time.Millisecond)(mock)

	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.Error(t, err)
	assert.Equal(t, 1, mock.GetCallCount(), "auth failures should not be retried")
}

func TestRetryMiddleware_DoesNotRetryOnCircuitOpen(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = ErrCircuitOpen
	wrapped := RetryMiddleware(3, time.Millisecond, 100*time.Millisecond)(mock)

	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.Error(t, err)
	assert.Equal(t, 1, mock.GetCallCount(), "open circuit should stop retries")
}

func TestRetryMiddleware_StopsOnContextCancellation(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("transient")
	wrapped := RetryMiddleware(5, 50*time.Millisecond, time.Second)(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := wrapped.DoRequest(ctx, "test prompt", nil)

	require.Error(t, err)
	assert.LessOrEqual(t, mock.GetCallCount(), 1, "cancelled context should stop retries")
}

func TestTimeoutMiddleware_CutsOffSlowRequests(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 200 * time.Millisecond
	wrapped := TimeoutMiddleware(20 * time.Millisecond)(mock)

	start := time.Now()
	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "should fail near the deadline, not the full delay")
}

func TestTimeoutMiddleware_PassesThroughFastRequests(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := TimeoutMiddleware(time.Second)(mock)

	response, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.NoError(t, err)
	assert.Equal(t, "test response", response)
}

func TestRateLimitMiddleware_PacesRequests(t *testing.T) {
	mock := NewMockCoreLLM()
	// 50 req/s with burst 1: three calls need at least ~40ms.
	wrapped := RateLimitMiddleware(rate.Limit(50), 1)(mock)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "requests beyond the burst should wait")
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRateLimitMiddleware_RespectsContextCancellation(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(0.1), 1)(mock)

	// Consume the burst token.
	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, _, err = wrapped.DoRequest(ctx, "test prompt", nil)
	require.Error(t, err, "waiting past the deadline should fail")
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestCircuitBreakerMiddleware_OpensAfterConsecutiveFailures(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("backend down")
	wrapped := CircuitBreakerMiddleware(2, time.Minute)(mock)

	for i := 0; i < 2; i++ {
		_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
		require.Error(t, err)
	}

	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen, "circuit should be open")
	assert.Equal(t, 2, mock.GetCallCount(), "open circuit should not reach the backend")
}

func TestCircuitBreakerMiddleware_RecoversAfterCooldown(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	wrapped := CircuitBreakerMiddleware(2, 10*time.Millisecond)(mock)

	for i := 0; i < 2; i++ {
		_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
		require.Error(t, err)
	}

	time.Sleep(20 * time.Millisecond)

	response, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
	require.NoError(t, err, "half-open probe should succeed")
	assert.Equal(t, "test response", response)
}

type recordingCollector struct {
	counters   map[string]float64
	histograms map[string]int
	labels     map[string]map[string]string
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		counters:   make(map[string]float64),
		histograms: make(map[string]int),
		labels:     make(map[string]map[string]string),
	}
}

func (c *recordingCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	key := metric
	if tt := labels["token_type"]; tt != "" {
		key = metric + ":" + tt
	}
	c.counters[key] += value
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	c.labels[key] = copied
}

func (c *recordingCollector) RecordHistogram(metric string, value float64, labels map[string]string) {
	c.histograms[metric]++
}

func (c *recordingCollector) RecordGauge(metric string, value float64, labels map[string]string) {}

func TestMetricsMiddleware_RecordsSuccess(t *testing.T) {
	mock := NewMockCoreLLM()
	collector := newRecordingCollector()
	wrapped := MetricsMiddleware("openai", collector)(mock)

	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
	require.NoError(t, err)

	assert.Equal(t, float64(1), c0(collector, "llm_requests_total"))
	assert.Equal(t, "success", collector.labels["llm_requests_total"]["status"])
	assert.Equal(t, "openai", collector.labels["llm_requests_total"]["provider"])
	assert.Equal(t, float64(10), c0(collector, "llm_tokens_total:input"))
	assert.Equal(t, float64(20), c0(collector, "llm_tokens_total:output"))
	assert.Equal(t, 1, collector.histograms["llm_request_duration_seconds"])
}

func TestMetricsMiddleware_EstimatesUnknownTokenCounts(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Response = "12345678" // 8 chars, estimates to 2 tokens
	mock.TokensIn = UnknownTokens
	mock.TokensOut = UnknownTokens
	collector := newRecordingCollector()
	wrapped := MetricsMiddleware("google", collector)(mock)

	_, tokensIn, tokensOut, err := wrapped.DoRequest(context.Background(), "abcd", nil)
	require.NoError(t, err)

	assert.Equal(t, UnknownTokens, tokensIn, "estimate must not leak into results")
	assert.Equal(t, UnknownTokens, tokensOut, "estimate must not leak into results")
	assert.Equal(t, float64(1), c0(collector, "llm_tokens_total:input"))
	assert.Equal(t, float64(2), c0(collector, "llm_tokens_total:output"))
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("boom")
	collector := newRecordingCollector()
	wrapped := MetricsMiddleware("anthropic", collector)(mock)

	_, _, _, err := wrapped.DoRequest(context.Background(), "test prompt", nil)
	require.Error(t, err)

	assert.Equal(t, "error", collector.labels["llm_requests_total"]["status"])
	assert.Zero(t, c0(collector, "llm_tokens_total:input"), "failed requests record no token usage")
}

func c0(c *recordingCollector, key string) float64 { return c.counters[key] }
