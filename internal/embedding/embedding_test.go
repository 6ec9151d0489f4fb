package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// blockingEmbedder counts calls and blocks each one until release is closed.
type blockingEmbedder struct {
	release chan struct{}
	err     error
	calls   atomic.Int64
}

func newBlockingEmbedder() *blockingEmbedder {
	return &blockingEmbedder{release: make(chan struct{})}
}

func (e *blockingEmbedder) IsAvailable() bool { return true }

func (e *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := e.calls.Add(1)
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), float32(n)}, nil
}

type RegistrySuite struct {
	suite.Suite
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

// embedConcurrently starts n callers, waits until all are blocked on the
// shared call, then releases the embedder.
func (s *RegistrySuite) embedConcurrently(reg *Registry, emb *blockingEmbedder, n int, text func(i int) string) ([][]float32, []error) {
	vecs := make([][]float32, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vecs[i], errs[i] = reg.Embed(context.Background(), text(i))
		}(i)
	}
	s.Require().Eventually(func() bool {
		return reg.Stats().Pending == int64(n)
	}, 2*time.Second, time.Millisecond)
	// Let the last caller move from the counter into the shared call.
	time.Sleep(20 * time.Millisecond)
	close(emb.release)
	wg.Wait()
	return vecs, errs
}

func (s *RegistrySuite) TestConcurrentIdenticalRequests_ShareOneCall() {
	emb := newBlockingEmbedder()
	reg := NewRegistry(emb, Options{})

	vecs, errs := s.embedConcurrently(reg, emb, 8, func(int) string { return "how do I deploy" })

	s.Equal(int64(1), emb.calls.Load())
	for i := range vecs {
		s.Require().NoError(errs[i])
		s.Equal(vecs[0], vecs[i])
	}
	s.Equal(int64(8), reg.Stats().Shared)
	s.Zero(reg.Stats().Pending)
}

func (s *RegistrySuite) TestNormalizedTextIsCoalesced() {
	emb := newBlockingEmbedder()
	reg := NewRegistry(emb, Options{})

	texts := []string{"How do I deploy", "  how   DO i deploy ", "how do i deploy"}
	_, errs := s.embedConcurrently(reg, emb, len(texts), func(i int) string { return texts[i] })

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal(int64(1), emb.calls.Load())
}

func (s *RegistrySuite) TestDistinctTexts_AreNotCoalesced() {
	emb := newBlockingEmbedder()
	reg := NewRegistry(emb, Options{})

	_, errs := s.embedConcurrently(reg, emb, 3, func(i int) string { return fmt.Sprintf("query %d", i) })

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal(int64(3), emb.calls.Load())
}

func (s *RegistrySuite) TestFailureDoesNotPoisonLaterRequests() {
	emb := newBlockingEmbedder()
	emb.err = errors.New("boom")
	reg := NewRegistry(emb, Options{Cache: NewMemoryCache(time.Minute, 10)})

	_, errs := s.embedConcurrently(reg, emb, 3, func(int) string { return "flaky" })
	for _, err := range errs {
		s.EqualError(err, "boom")
	}
	s.Equal(int64(1), reg.Stats().Failures)

	emb.err = nil
	vec, err := reg.Embed(context.Background(), "flaky")
	s.Require().NoError(err)
	s.NotEmpty(vec)
	s.Equal(int64(2), emb.calls.Load())
}

func (s *RegistrySuite) TestCacheServesRepeatRequests() {
	emb := newBlockingEmbedder()
	close(emb.release)
	reg := NewRegistry(emb, Options{Cache: NewMemoryCache(time.Minute, 10)})

	first, err := reg.Embed(context.Background(), "cached text")
	s.Require().NoError(err)
	second, err := reg.Embed(context.Background(), "Cached   TEXT")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(int64(1), emb.calls.Load())
	s.Equal(int64(1), reg.Stats().CacheHits)
}

func (s *RegistrySuite) TestCallerCancellationDoesNotCancelSharedCall() {
	emb := newBlockingEmbedder()
	reg := NewRegistry(emb, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Embed(ctx, "shared")
		errCh <- err
	}()
	s.Require().Eventually(func() bool { return emb.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	done := make(chan []float32, 1)
	go func() {
		vec, _ := reg.Embed(context.Background(), "shared")
		done <- vec
	}()
	s.Require().Eventually(func() bool { return reg.Stats().Pending == 2 }, 2*time.Second, time.Millisecond)

	cancel()
	s.ErrorIs(<-errCh, context.Canceled)

	close(emb.release)
	s.NotEmpty(<-done)
	s.Equal(int64(1), emb.calls.Load())
}

func (s *RegistrySuite) TestClose() {
	emb := newBlockingEmbedder()
	close(emb.release)
	cache := NewMemoryCache(time.Minute, 10)
	reg := NewRegistry(emb, Options{Cache: cache})

	_, err := reg.Embed(context.Background(), "text")
	s.Require().NoError(err)
	s.Equal(1, cache.Len())

	s.Require().NoError(reg.Close())
	s.Require().NoError(reg.Close())
	s.False(reg.IsAvailable())
	s.Zero(cache.Len())

	_, err = reg.Embed(context.Background(), "text")
	s.ErrorIs(err, ErrRegistryClosed)
}

func (s *RegistrySuite) TestUnavailableEmbedder() {
	reg := NewRegistry(nil, Options{})
	s.False(reg.IsAvailable())
	_, err := reg.Embed(context.Background(), "text")
	s.ErrorIs(err, ErrEmbeddingDisabled)

	disabled := NewRegistry(NewOpenAIEmbedder(OpenAIConfig{}), Options{})
	s.False(disabled.IsAvailable())
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	c := NewMemoryCache(time.Minute, 2)
	ctx := context.Background()
	c.Set(ctx, "a", []float32{1})
	c.Set(ctx, "b", []float32{2})
	c.Set(ctx, "c", []float32{3})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, "c")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []float32{1}, v)
}

func TestNormalizeAndFingerprint(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello \n\tWORLD "))
	assert.Equal(t, Fingerprint("Hello World"), Fingerprint("hello   world"))
	assert.NotEqual(t, Fingerprint("hello"), Fingerprint("world"))
	assert.Len(t, Fingerprint("x"), 64)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "disabled", err: ErrEmbeddingDisabled, want: false},
		{name: "closed", err: fmt.Errorf("wrap: %w", ErrRegistryClosed), want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "net error", err: fmt.Errorf("dial: %w", timeoutErr{}), want: true},
		{name: "rate limited", err: &ProviderError{StatusCode: 429, Err: errors.New("slow down")}, want: true},
		{name: "server error", err: &ProviderError{StatusCode: 503, Err: errors.New("unavailable")}, want: true},
		{name: "bad request", err: &ProviderError{StatusCode: 400, Err: errors.New("bad")}, want: false},
		{name: "plain", err: errors.New("parse failure"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"test","data":[{"object":"embedding","index":0,"embedding":[0.25,0.5,1]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	emb := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	require.True(t, emb.IsAvailable())

	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 1}, vec)
}

func TestOpenAIEmbedder_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	emb := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	_, err := emb.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestOpenAIEmbedder_Disabled(t *testing.T) {
	emb := NewOpenAIEmbedder(OpenAIConfig{})
	_, err := emb.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingDisabled)
}

func TestTokenBudget_Truncate(t *testing.T) {
	budget, err := NewTokenBudget(3)
	require.NoError(t, err)

	short := "hi"
	assert.Equal(t, short, budget.Truncate(short))

	long := "the quick brown fox jumps over the lazy dog"
	truncated := budget.Truncate(long)
	assert.LessOrEqual(t, budget.Count(truncated), 3)
	assert.True(t, len(truncated) < len(long))

	var nilBudget *TokenBudget
	assert.Equal(t, long, nilBudget.Truncate(long))
}
