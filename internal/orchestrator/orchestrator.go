package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/jaydeelew/compareintel/internal/catalog"
	"github.com/jaydeelew/compareintel/internal/credits"
	"github.com/jaydeelew/compareintel/internal/identity"
	"github.com/jaydeelew/compareintel/internal/models"
	"github.com/jaydeelew/compareintel/internal/provider"
	"github.com/jaydeelew/compareintel/internal/repository"
)

// charsPerToken is the estimation ratio used for context-window checks.
const charsPerToken = 4

// FailureKind distinguishes the two pre-stream rejection classes.
type FailureKind int

const (
	FailureValidation FailureKind = iota
	FailureAdmission
)

// RunFailure is a pre-stream rejection. No stream event has been emitted
// when one is returned; callers surface it as an ordinary failure response.
type RunFailure struct {
	Kind    FailureKind
	Message string
}

func (f *RunFailure) Error() string {
	return f.Message
}

// Config holds the orchestration loop parameters.
type Config struct {
	InactivityTimeout time.Duration
	KeepaliveInterval time.Duration
	PollInterval      time.Duration
	EventBuffer       int
	MaxWorkers        int
	MaxTokens         int
}

// Orchestrator validates a comparison request, admits it against the credit
// ledger, fans it out to model workers, multiplexes their streams into the
// sink, and settles usage when the stream ends.
type Orchestrator struct {
	catalog *catalog.Catalog
	gate    *credits.Gate
	settle  *credits.Settlement
	prov    provider.Provider
	repo    repository.Repository
	cfg     Config
}

func New(cat *catalog.Catalog, gate *credits.Gate, settle *credits.Settlement, prov provider.Provider, repo repository.Repository, cfg Config) *Orchestrator {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	return &Orchestrator{catalog: cat, gate: gate, settle: settle, prov: prov, repo: repo, cfg: cfg}
}

// Run executes one comparison. A *RunFailure return means nothing was
// streamed; any other path emits a terminal complete (or error) event
// through the sink and returns nil.
func (o *Orchestrator) Run(ctx context.Context, req models.ComparisonRequest, id identity.Identity, now time.Time, sink Sink) error {
	if err := o.validate(&req, id); err != nil {
		return err
	}

	dec, err := o.gate.Check(ctx, id, len(req.Models), now)
	switch {
	case err == nil:
	case errors.Is(err, credits.ErrInsufficientCredits):
		return &RunFailure{Kind: FailureAdmission, Message: "Insufficient credits"}
	case errors.Is(err, credits.ErrTooManyModels):
		return &RunFailure{Kind: FailureValidation, Message: err.Error()}
	default:
		return fmt.Errorf("admission check failed: %w", err)
	}

	if req.ReqID == "" {
		req.ReqID = ulid.Make().String()
	}

	slog.Info("Comparison admitted",
		"req_id", req.ReqID,
		"identity", id.Key,
		"models", len(req.Models),
		"credits_remaining", dec.Remaining)

	start := time.Now()
	var outcomes []models.ModelOutcome
	streaming := false

	// The stream must never terminate with an unhandled fault visible to
	// the transport. With partial results the client still gets a complete
	// event; with none it gets a plain error event.
	defer func() {
		if r := recover(); r == nil {
			return
		} else if streaming && len(outcomes) > 0 {
			slog.Error("Orchestration fault after partial results", "req_id", req.ReqID, "panic", r)
			meta := o.metadata(req, outcomes, start, 0, dec.Remaining)
			meta.Note = "comparison ended abnormally"
			_ = sink.Send(models.CompleteEvent(meta))
		} else {
			slog.Error("Orchestration fault before results", "req_id", req.ReqID, "panic", r)
			_ = sink.Send(models.ChunkEvent{Type: models.EventError, Message: "internal error"})
		}
	}()

	opts := provider.Options{WebSearch: req.WebSearch, MaxTokens: o.cfg.MaxTokens}
	if req.Temperature != nil {
		opts.Temperature = req.Temperature
	}

	events := make(chan workerEvent, o.cfg.EventBuffer)
	m := newMux(o.cfg.InactivityTimeout, o.cfg.KeepaliveInterval, o.cfg.PollInterval, sink)

	workerCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	streaming = true
	for _, model := range req.Models {
		childCtx, cancel := context.WithCancel(workerCtx)
		m.register(model, cancel)
		go runWorker(childCtx, o.prov, model, req.Input, filterHistory(req.History, model), opts, events)
	}

	outcomes = m.run(ctx, events)

	// Settlement and persistence outlive a disconnected client.
	settleCtx, cancelSettle := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSettle()
	charged, remaining := o.settle.Settle(settleCtx, id, outcomes, now)

	meta := o.metadata(req, outcomes, start, charged, remaining)
	_ = sink.Send(models.CompleteEvent(meta))

	go o.persist(req, id, outcomes, meta)
	return nil
}

func (o *Orchestrator) validate(req *models.ComparisonRequest, id identity.Identity) *RunFailure {
	req.Input = strings.TrimSpace(req.Input)
	if req.Input == "" {
		return &RunFailure{Kind: FailureValidation, Message: "Input must not be empty"}
	}
	if len(req.Models) == 0 {
		return &RunFailure{Kind: FailureValidation, Message: "At least one model must be selected"}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return &RunFailure{Kind: FailureValidation, Message: "Temperature must be between 0 and 2"}
	}
	// The tier cap governs, bounded above by the service-wide worker cap.
	max := o.gate.MaxModels(id.Tier)
	if o.cfg.MaxWorkers > 0 && o.cfg.MaxWorkers < max {
		max = o.cfg.MaxWorkers
	}
	if len(req.Models) > max {
		return &RunFailure{Kind: FailureValidation, Message: fmt.Sprintf("At most %d models per comparison", max)}
	}

	seen := make(map[string]bool, len(req.Models))
	estTokens := len([]rune(req.Input))/charsPerToken + 1
	var tooLong []string
	for _, modelID := range req.Models {
		if seen[modelID] {
			return &RunFailure{Kind: FailureValidation, Message: fmt.Sprintf("Duplicate model: %s", modelID)}
		}
		seen[modelID] = true

		model, ok := o.catalog.Lookup(modelID)
		if !ok {
			return &RunFailure{Kind: FailureValidation, Message: fmt.Sprintf("Unknown model: %s", modelID)}
		}
		if model.ContextWindow > 0 && estTokens > model.ContextWindow {
			tooLong = append(tooLong, modelID)
		}
	}
	if len(tooLong) > 0 {
		return &RunFailure{
			Kind:    FailureValidation,
			Message: fmt.Sprintf("Input exceeds the context window of: %s", strings.Join(tooLong, ", ")),
		}
	}
	return nil
}

func (o *Orchestrator) metadata(req models.ComparisonRequest, outcomes []models.ModelOutcome, start time.Time, charged, remaining int) models.EventMetadata {
	successful := 0
	for _, out := range outcomes {
		if !out.Error {
			successful++
		}
	}
	return models.EventMetadata{
		InputLength:      len(req.Input),
		ModelsRequested:  len(req.Models),
		ModelsSuccessful: successful,
		ModelsFailed:     len(req.Models) - successful,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CreditsUsed:      charged,
		CreditsRemaining: remaining,
	}
}

// persist writes the usage record and transcripts out of band. Failures are
// logged; the response already went out.
func (o *Orchestrator) persist(req models.ComparisonRequest, id identity.Identity, outcomes []models.ModelOutcome, meta models.EventMetadata) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Persistence panic", "req_id", req.ReqID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokensIn, tokensOut := 0, 0
	for _, out := range outcomes {
		if out.Usage != nil {
			tokensIn += out.Usage.InputTokens
			tokensOut += out.Usage.OutputTokens
		}
	}

	rec := &models.UsageRecord{
		ID:               uuid.NewString(),
		Timestamp:        time.Now(),
		ReqID:            req.ReqID,
		IdentityKey:      id.Key,
		InputLength:      meta.InputLength,
		ModelsRequested:  meta.ModelsRequested,
		ModelsSuccessful: meta.ModelsSuccessful,
		ModelsFailed:     meta.ModelsFailed,
		TokensIn:         tokensIn,
		TokensOut:        tokensOut,
		EffectiveTokens:  o.settle.EffectiveTokens(outcomes),
		CreditsCharged:   meta.CreditsUsed,
		DurationMs:       meta.ProcessingTimeMs,
	}
	if err := o.repo.Usage().AppendUsage(ctx, rec); err != nil {
		slog.Error("Failed to persist usage record", "req_id", req.ReqID, "error", err)
	}

	for _, out := range outcomes {
		tr := &models.TranscriptRecord{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			ReqID:     req.ReqID,
			Model:     out.Model,
			Input:     req.Input,
			Output:    out.Content,
			Error:     out.Error,
		}
		if err := o.repo.Transcript().AppendTranscript(ctx, tr); err != nil {
			slog.Error("Failed to persist transcript", "req_id", req.ReqID, "model", out.Model, "error", err)
		}
	}
}

// filterHistory keeps the turns a model should see: every user turn plus
// its own assistant turns.
func filterHistory(history []models.Message, model string) []models.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleUser || msg.ModelID == model {
			out = append(out, msg)
		}
	}
	return out
}
