// Package provider bridges the orchestrator to external model backends.
// Implementations must be safe for concurrent use; one Stream call maps to
// one model invocation.
package provider

import (
	"context"

	"github.com/jaydeelew/compareintel/internal/models"
)

// Options are the per-request knobs forwarded to a model backend.
type Options struct {
	Temperature *float64
	WebSearch   bool
	MaxTokens   int
}

// Fragment is one piece of a model's streamed response. The final fragment
// carries Usage when the backend reported it. A failed stream delivers a
// single fragment with Err set and no further fragments.
type Fragment struct {
	Content string
	Usage   *models.UsageResult
	Final   bool
	Err     error
}

// Provider produces an asynchronous sequence of response fragments for one
// model call. The returned channel is closed after the final fragment.
// Cancelling ctx stops the stream; the channel still closes.
type Provider interface {
	Stream(ctx context.Context, modelID, prompt string, history []models.Message, opts Options) (<-chan Fragment, error)
}
