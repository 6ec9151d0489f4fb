// Package embedding provides the embedding capability contract, a coalescing
// registry that shares in-flight embedding calls, result caches and an
// OpenAI-compatible provider.
package embedding

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrEmbeddingDisabled is returned when no embedding provider is configured.
	ErrEmbeddingDisabled = errors.New("embedding disabled")
	// ErrRegistryClosed is returned for requests made after Close.
	ErrRegistryClosed = errors.New("embedding registry closed")
)

// Embedder turns text into a vector.
type Embedder interface {
	// IsAvailable reports whether Embed can currently be called.
	IsAvailable() bool
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderError carries the HTTP status of a failed provider call.
type ProviderError struct {
	Err        error
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider status %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether the status code indicates a retryable condition.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient reports whether err is a network, timeout or service
// unavailable failure, as opposed to a permanent or configuration error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmbeddingDisabled) || errors.Is(err, ErrRegistryClosed) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Normalize lower-cases text and collapses whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint returns the hex blake2b-256 digest of the normalized text.
func Fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
