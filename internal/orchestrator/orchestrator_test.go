package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaydeelew/compareintel/internal/catalog"
	"github.com/jaydeelew/compareintel/internal/credits"
	"github.com/jaydeelew/compareintel/internal/identity"
	"github.com/jaydeelew/compareintel/internal/models"
	"github.com/jaydeelew/compareintel/internal/provider"
	"github.com/jaydeelew/compareintel/internal/repository"
)

// collectSink records emitted events in order.
type collectSink struct {
	mu     sync.Mutex
	events []models.ChunkEvent
}

func (s *collectSink) Send(ev models.ChunkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectSink) snapshot() []models.ChunkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChunkEvent(nil), s.events...)
}

// memRepo is an in-memory repository for orchestrator tests.
type memRepo struct {
	mu          sync.Mutex
	usage       []*models.UsageRecord
	transcripts []*models.TranscriptRecord
}

func (r *memRepo) Usage() repository.UsageRepositoryInterface           { return r }
func (r *memRepo) Transcript() repository.TranscriptRepositoryInterface { return r }
func (r *memRepo) Event() repository.EventRepositoryInterface           { return r }

func (r *memRepo) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, rec)
	return nil
}

func (r *memRepo) GetUsageRecords(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.UsageRecord(nil), r.usage...), nil
}

func (r *memRepo) AppendTranscript(ctx context.Context, rec *models.TranscriptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, rec)
	return nil
}

func (r *memRepo) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	return nil
}

func writeTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `models:
  - id: model-a
    name: Model A
    subject: inference.request.model-a
    context_window: 8192
  - id: model-b
    name: Model B
    subject: inference.request.model-b
    context_window: 8192
  - id: tiny
    name: Tiny
    subject: inference.request.tiny
    context_window: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cat, err := catalog.Load(path)
	require.NoError(t, err)
	return cat
}

func testOrchestrator(t *testing.T, prov provider.Provider, ledger credits.Ledger) (*Orchestrator, *memRepo) {
	t.Helper()
	pols := credits.Policies{
		Anonymous: credits.Policy{Allocation: 30, Period: credits.PeriodDaily, MaxModels: 3},
		Free:      credits.Policy{Allocation: 100, Period: credits.PeriodDaily, MaxModels: 6},
		Pro:       credits.Policy{Allocation: 5000, Period: credits.PeriodMonthly, MaxModels: 10},
	}
	repo := &memRepo{}
	orch := New(
		writeTestCatalog(t),
		credits.NewGate(ledger, pols),
		credits.NewSettlement(ledger, pols, 2.5, 1000),
		prov,
		repo,
		Config{
			InactivityTimeout: 300 * time.Millisecond,
			KeepaliveInterval: 60 * time.Millisecond,
			PollInterval:      10 * time.Millisecond,
			EventBuffer:       64,
			MaxWorkers:        10,
			MaxTokens:         512,
		},
	)
	return orch, repo
}

func countByType(events []models.ChunkEvent) map[string]int {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return counts
}

func TestRunEmitsExactlyOneDonePerModelAndCompleteLast(t *testing.T) {
	prov := &fakeProvider{scripts: map[string][]provider.Fragment{
		"model-a": {
			{Content: "Alpha"},
			{Final: true, Usage: &models.UsageResult{InputTokens: 100, OutputTokens: 50}},
		},
		"model-b": {
			{Content: "Beta"},
			{Final: true, Usage: &models.UsageResult{InputTokens: 80, OutputTokens: 20}},
		},
	}}
	orch, _ := testOrchestrator(t, prov, credits.NewMemoryLedger())
	sink := &collectSink{}

	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "compare this",
		Models: []string{"model-a", "model-b"},
	}, identity.Anonymous("203.0.113.7", ""), time.Now(), sink)
	require.NoError(t, err)

	events := sink.snapshot()
	counts := countByType(events)
	assert.Equal(t, 2, counts[models.EventStart])
	assert.Equal(t, 2, counts[models.EventDone])
	assert.Equal(t, 1, counts[models.EventComplete])
	assert.Equal(t, models.EventComplete, events[len(events)-1].Type, "complete must terminate the stream")

	// One done per distinct model.
	doneModels := make(map[string]int)
	for _, ev := range events {
		if ev.Type == models.EventDone {
			doneModels[ev.Model]++
		}
	}
	assert.Equal(t, map[string]int{"model-a": 1, "model-b": 1}, doneModels)
}

func TestRunIntraModelOrdering(t *testing.T) {
	prov := &fakeProvider{scripts: map[string][]provider.Fragment{
		"model-a": {
			{Content: "one "},
			{Content: "two"},
			{Final: true},
		},
	}}
	orch, _ := testOrchestrator(t, prov, credits.NewMemoryLedger())
	sink := &collectSink{}

	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "hello",
		Models: []string{"model-a"},
	}, identity.Anonymous("203.0.113.7", ""), time.Now(), sink)
	require.NoError(t, err)

	var sequence []string
	for _, ev := range sink.snapshot() {
		if ev.Model == "model-a" {
			sequence = append(sequence, ev.Type)
		}
	}
	assert.Equal(t, []string{"start", "chunk", "chunk", "done"}, sequence)
}

func TestRunMixedSuccessAndFailureScenario(t *testing.T) {
	prov := &fakeProvider{
		scripts: map[string][]provider.Fragment{
			"model-a": {
				{Content: "Alpha says hi"},
				{Final: true, Usage: &models.UsageResult{InputTokens: 100, OutputTokens: 50}},
			},
		},
		failures: map[string]error{
			"model-b": fmt.Errorf("%w: expired key", provider.ErrAuth),
		},
	}
	ledger := credits.NewMemoryLedger()
	orch, repo := testOrchestrator(t, prov, ledger)
	sink := &collectSink{}
	id := identity.Anonymous("203.0.113.7", "fp9")

	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "compare this",
		Models: []string{"model-a", "model-b"},
	}, id, time.Now(), sink)
	require.NoError(t, err)

	events := sink.snapshot()
	final := events[len(events)-1]
	require.Equal(t, models.EventComplete, final.Type)
	require.NotNil(t, final.Metadata)
	assert.Equal(t, 2, final.Metadata.ModelsRequested)
	assert.Equal(t, 1, final.Metadata.ModelsSuccessful)
	assert.Equal(t, 1, final.Metadata.ModelsFailed)
	// 100 + 50*2.5 = 225 effective tokens -> 1 credit.
	assert.Equal(t, 1, final.Metadata.CreditsUsed)
	assert.Equal(t, 29, final.Metadata.CreditsRemaining)

	for _, ev := range events {
		if ev.Type == models.EventDone {
			require.NotNil(t, ev.Error)
			assert.Equal(t, ev.Model == "model-b", *ev.Error)
		}
	}

	// Usage record lands out of band.
	require.Eventually(t, func() bool {
		recs, _ := repo.GetUsageRecords(context.Background(), 10)
		return len(recs) == 1
	}, time.Second, 10*time.Millisecond)
	recs, _ := repo.GetUsageRecords(context.Background(), 10)
	assert.Equal(t, 1, recs[0].CreditsCharged)
	assert.Equal(t, 100, recs[0].TokensIn)
	assert.Equal(t, 50, recs[0].TokensOut)
}

func TestRunTimesOutSilentModel(t *testing.T) {
	prov := &fakeProvider{scripts: map[string][]provider.Fragment{
		"model-a": {
			{Content: "fast"},
			{Final: true, Usage: &models.UsageResult{InputTokens: 10, OutputTokens: 5}},
		},
		"model-b": nil, // hangs forever
	}}
	orch, _ := testOrchestrator(t, prov, credits.NewMemoryLedger())
	sink := &collectSink{}

	start := time.Now()
	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "hello",
		Models: []string{"model-a", "model-b"},
	}, identity.Anonymous("203.0.113.7", ""), time.Now(), sink)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "timeout must bound the silent model's contribution")

	events := sink.snapshot()
	counts := countByType(events)
	assert.Equal(t, 2, counts[models.EventDone])
	assert.Equal(t, 1, counts[models.EventComplete])

	for _, ev := range events {
		if ev.Type == models.EventDone && ev.Model == "model-b" {
			require.NotNil(t, ev.Error)
			assert.True(t, *ev.Error, "silent model must finish errored")
		}
		if ev.Type == models.EventDone && ev.Model == "model-a" {
			require.NotNil(t, ev.Error)
			assert.False(t, *ev.Error, "sibling must be unaffected")
		}
	}
}

func TestRunEmitsHeartbeatsWhileIdle(t *testing.T) {
	prov := &fakeProvider{scripts: map[string][]provider.Fragment{
		"model-b": nil, // idle until timeout
	}}
	orch, _ := testOrchestrator(t, prov, credits.NewMemoryLedger())
	sink := &collectSink{}

	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "hello",
		Models: []string{"model-b"},
	}, identity.Anonymous("203.0.113.7", ""), time.Now(), sink)
	require.NoError(t, err)

	counts := countByType(sink.snapshot())
	assert.GreaterOrEqual(t, counts[models.EventKeepalive], 2,
		"keepalives must flow at a cadence shorter than the inactivity window")
}

func TestRunRejectsBeforeStreamingWhenBroke(t *testing.T) {
	ledger := credits.NewMemoryLedger()
	pol := credits.Policy{Allocation: 30, Period: credits.PeriodDaily, MaxModels: 3}
	now := time.Now()
	_, err := ledger.Deduct(context.Background(), "ip:203.0.113.7", pol, 30, now)
	require.NoError(t, err)

	orch, _ := testOrchestrator(t, &fakeProvider{}, ledger)
	sink := &collectSink{}

	err = orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "hello",
		Models: []string{"model-a"},
	}, identity.Anonymous("203.0.113.7", ""), now, sink)

	var failure *RunFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureAdmission, failure.Kind)
	assert.Empty(t, sink.snapshot(), "no stream event may precede admission")
}

func TestRunValidation(t *testing.T) {
	orch, _ := testOrchestrator(t, &fakeProvider{}, credits.NewMemoryLedger())
	id := identity.Anonymous("203.0.113.7", "")
	now := time.Now()

	tests := []struct {
		name string
		req  models.ComparisonRequest
		want string
	}{
		{"empty input", models.ComparisonRequest{Input: "   ", Models: []string{"model-a"}}, "Input must not be empty"},
		{"no models", models.ComparisonRequest{Input: "hi"}, "At least one model"},
		{"unknown model", models.ComparisonRequest{Input: "hi", Models: []string{"nope"}}, "Unknown model: nope"},
		{"duplicate model", models.ComparisonRequest{Input: "hi", Models: []string{"model-a", "model-a"}}, "Duplicate model"},
		{"context window", models.ComparisonRequest{Input: "this input is far too long for tiny", Models: []string{"tiny"}}, "context window of: tiny"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &collectSink{}
			err := orch.Run(context.Background(), tt.req, id, now, sink)
			var failure *RunFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, FailureValidation, failure.Kind)
			assert.Contains(t, failure.Message, tt.want)
			assert.Empty(t, sink.snapshot())
		})
	}
}

func TestRunWorkerCapBoundsFanOut(t *testing.T) {
	pols := credits.Policies{
		Anonymous: credits.Policy{Allocation: 30, Period: credits.PeriodDaily, MaxModels: 3},
		Free:      credits.Policy{Allocation: 100, Period: credits.PeriodDaily, MaxModels: 6},
		Pro:       credits.Policy{Allocation: 5000, Period: credits.PeriodMonthly, MaxModels: 10},
	}
	ledger := credits.NewMemoryLedger()
	orch := New(
		writeTestCatalog(t),
		credits.NewGate(ledger, pols),
		credits.NewSettlement(ledger, pols, 2.5, 1000),
		&fakeProvider{},
		&memRepo{},
		Config{
			InactivityTimeout: 300 * time.Millisecond,
			KeepaliveInterval: 60 * time.Millisecond,
			PollInterval:      10 * time.Millisecond,
			MaxWorkers:        1,
		},
	)
	sink := &collectSink{}

	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:  "hello",
		Models: []string{"model-a", "model-b"},
	}, identity.Anonymous("203.0.113.7", ""), time.Now(), sink)

	var failure *RunFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureValidation, failure.Kind)
	assert.Contains(t, failure.Message, "At most 1 models")
	assert.Empty(t, sink.snapshot())
}

func TestRunForwardsGenerationOptions(t *testing.T) {
	prov := &fakeProvider{scripts: map[string][]provider.Fragment{
		"model-a": {{Final: true}},
	}}
	orch, _ := testOrchestrator(t, prov, credits.NewMemoryLedger())

	temp := 0.7
	err := orch.Run(context.Background(), models.ComparisonRequest{
		Input:       "hello",
		Models:      []string{"model-a"},
		Temperature: &temp,
		WebSearch:   true,
	}, identity.Anonymous("203.0.113.7", ""), time.Now(), &collectSink{})
	require.NoError(t, err)

	prov.mu.Lock()
	opts := prov.gotOpts["model-a"]
	prov.mu.Unlock()
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.7, *opts.Temperature)
	assert.True(t, opts.WebSearch)
	assert.Equal(t, 512, opts.MaxTokens, "token ceiling must reach the backend")
}

func TestFilterHistoryKeepsOwnTurnsOnly(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "question"},
		{Role: models.RoleAssistant, Content: "from a", ModelID: "model-a"},
		{Role: models.RoleAssistant, Content: "from b", ModelID: "model-b"},
		{Role: models.RoleUser, Content: "follow-up"},
	}

	filtered := filterHistory(history, "model-a")
	require.Len(t, filtered, 3)
	assert.Equal(t, "question", filtered[0].Content)
	assert.Equal(t, "from a", filtered[1].Content)
	assert.Equal(t, "follow-up", filtered[2].Content)
}
