package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jaydeelew/compareintel/internal/models"
	"github.com/jaydeelew/compareintel/internal/provider"
)

// Sink receives the ordered event stream. Send errors mean the downstream
// consumer is gone; the loop stops emitting but still finishes accounting.
type Sink interface {
	Send(models.ChunkEvent) error
}

// task is the loop's view of one model stream.
type task struct {
	model         string
	state         models.TaskState
	cancel        context.CancelFunc
	lastActivity  time.Time
	lastHeartbeat time.Time
	outcome       *models.ModelOutcome
}

// mux merges the worker event streams into a single output sequence,
// enforcing per-model inactivity timeouts and keepalive heartbeats. It is
// the sole consumer of the events channel.
type mux struct {
	inactivity time.Duration
	keepalive  time.Duration
	poll       time.Duration

	tasks      map[string]*task
	order      []string
	sink       Sink
	sinkBroken bool
}

func newMux(inactivity, keepalive, poll time.Duration, sink Sink) *mux {
	return &mux{
		inactivity: inactivity,
		keepalive:  keepalive,
		poll:       poll,
		tasks:      make(map[string]*task),
		sink:       sink,
	}
}

// register adds a model before the loop starts. Start events are emitted in
// registration order, each preceding any of that model's chunks.
func (m *mux) register(model string, cancel context.CancelFunc) {
	now := time.Now()
	m.tasks[model] = &task{
		model:         model,
		state:         models.TaskRunning,
		cancel:        cancel,
		lastActivity:  now,
		lastHeartbeat: now,
	}
	m.order = append(m.order, model)
	m.emit(models.StartEvent(model))
}

// run consumes worker events until every task reaches a terminal state or
// ctx is cancelled, then reconciles so every model has exactly one done
// event. Returns outcomes in registration order.
func (m *mux) run(ctx context.Context, events <-chan workerEvent) []models.ModelOutcome {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	remaining := len(m.order)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			remaining = 0

		case ev := <-events:
			t, ok := m.tasks[ev.model]
			if !ok || t.state.Terminal() {
				// Late event from a cancelled or finalized task.
				continue
			}
			switch ev.kind {
			case evChunk:
				t.lastActivity = time.Now()
				m.emit(models.ChunkEventFor(ev.model, ev.content))
			case evKeepalive:
				t.lastActivity = time.Now()
				m.emit(models.KeepaliveEvent(ev.model))
			case evResult:
				m.finalize(t, ev.result)
				remaining--
			}

		case now := <-ticker.C:
			for _, model := range m.order {
				t := m.tasks[model]
				if t.state.Terminal() {
					continue
				}
				if now.Sub(t.lastActivity) > m.inactivity {
					m.timeout(t)
					remaining--
					continue
				}
				idle := t.lastActivity
				if t.lastHeartbeat.After(idle) {
					idle = t.lastHeartbeat
				}
				if now.Sub(idle) >= m.keepalive {
					t.lastHeartbeat = now
					m.emit(models.KeepaliveEvent(model))
				}
			}
		}
	}

	return m.reconcile()
}

// finalize records a task's terminal outcome and emits its done event.
func (m *mux) finalize(t *task, outcome *models.ModelOutcome) {
	t.outcome = outcome
	if outcome.Error {
		t.state = models.TaskErrored
	} else {
		t.state = models.TaskDone
	}
	m.emit(models.DoneEvent(t.model, outcome.Error))
}

// timeout force-terminates an idle task. Cancellation is fire-and-forget:
// the worker unwinds on its own and its late events are dropped.
func (m *mux) timeout(t *task) {
	slog.Warn("Model stream timed out", "model", t.model, "window", m.inactivity)
	t.cancel()
	t.state = models.TaskTimedOut
	t.outcome = &models.ModelOutcome{
		Model:   t.model,
		Content: provider.TimeoutMessage(m.inactivity),
		Error:   true,
	}
	m.emit(models.DoneEvent(t.model, true))
}

// reconcile guarantees exactly one done event per requested model, covering
// tasks interrupted by cancellation or an aborted loop.
func (m *mux) reconcile() []models.ModelOutcome {
	outcomes := make([]models.ModelOutcome, 0, len(m.order))
	for _, model := range m.order {
		t := m.tasks[model]
		if !t.state.Terminal() {
			t.cancel()
			t.state = models.TaskErrored
			t.outcome = &models.ModelOutcome{
				Model:   model,
				Content: "Comparison interrupted",
				Error:   true,
			}
			m.emit(models.DoneEvent(model, true))
		}
		outcomes = append(outcomes, *t.outcome)
	}
	return outcomes
}

func (m *mux) emit(ev models.ChunkEvent) {
	if m.sinkBroken {
		return
	}
	if err := m.sink.Send(ev); err != nil {
		slog.Warn("Event sink closed, continuing without emission", "error", err)
		m.sinkBroken = true
	}
}
