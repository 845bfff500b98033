package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaydeelew/compareintel/internal/models"
	"github.com/jaydeelew/compareintel/internal/provider"
)

type eventKind int

const (
	evChunk eventKind = iota
	evKeepalive
	evResult
)

// workerEvent is the unit of cross-goroutine handoff between model workers
// and the event loop. Workers only ever send; the loop is the sole receiver.
type workerEvent struct {
	model   string
	kind    eventKind
	content string
	result  *models.ModelOutcome
}

// runWorker drives a single model call off the event loop, publishing each
// fragment into events tagged with the model id. It always delivers exactly
// one terminal evResult and never lets a fault cross the worker boundary.
func runWorker(ctx context.Context, prov provider.Provider, model, prompt string, history []models.Message, opts provider.Options, events chan<- workerEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Model worker panic", "model", model, "panic", r)
			send(ctx, events, workerEvent{
				model: model,
				kind:  evResult,
				result: &models.ModelOutcome{
					Model:   model,
					Content: provider.Classify(fmt.Errorf("worker panic: %v", r)),
					Error:   true,
				},
			})
		}
	}()

	frags, err := prov.Stream(ctx, model, prompt, history, opts)
	if err != nil {
		send(ctx, events, workerEvent{
			model:  model,
			kind:   evResult,
			result: &models.ModelOutcome{Model: model, Content: provider.Classify(err), Error: true},
		})
		return
	}

	var content strings.Builder
	var usage *models.UsageResult
	prevKeepalive := false
	failed := false
	errMsg := ""

	for frag := range frags {
		if frag.Err != nil {
			failed = true
			errMsg = provider.Classify(frag.Err)
			break
		}
		if frag.Usage != nil {
			usage = frag.Usage
		}
		if frag.Content != "" {
			if isKeepaliveFragment(frag.Content, content.String(), prevKeepalive) {
				prevKeepalive = true
				if !send(ctx, events, workerEvent{model: model, kind: evKeepalive}) {
					return
				}
				continue
			}
			prevKeepalive = false
			content.WriteString(frag.Content)
			if !send(ctx, events, workerEvent{model: model, kind: evChunk, content: frag.Content}) {
				return
			}
		}
		if frag.Final {
			break
		}
	}

	outcome := &models.ModelOutcome{Model: model, Content: content.String(), Usage: usage}
	if failed {
		outcome.Content = errMsg
		outcome.Error = true
		outcome.Usage = nil
	}
	send(ctx, events, workerEvent{model: model, kind: evResult, result: outcome})
}

// send delivers an event unless the worker's context was cancelled, so a
// cancelled task can never block on the bounded channel.
func send(ctx context.Context, events chan<- workerEvent, ev workerEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// isKeepaliveFragment discriminates provider connection-keepalive filler
// from real content. A fragment is filler when it is whitespace-only and
// either no real content has arrived yet, the accumulated content already
// ends in whitespace, or the previous fragment was itself filler. Filler
// runs collapse and never reach the accumulated content.
func isKeepaliveFragment(frag, accumulated string, prevKeepalive bool) bool {
	if strings.TrimSpace(frag) != "" {
		return false
	}
	if accumulated == "" || prevKeepalive {
		return true
	}
	return strings.TrimSpace(accumulated[len(accumulated)-1:]) == ""
}
