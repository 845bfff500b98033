package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/jaydeelew/compareintel/internal/catalog"
	"github.com/jaydeelew/compareintel/internal/models"
)

// streamRequest is the message published to a model's inference subject.
type streamRequest struct {
	ReqID   string                 `json:"req_id"`
	Input   string                 `json:"input"`
	History []models.Message       `json:"history,omitempty"`
	Params  map[string]interface{} `json:"params"`
	ReplyTo string                 `json:"reply_to"`
	Stream  bool                   `json:"stream"`
}

// streamFragment is one message an inference worker publishes to the reply
// subject. The final fragment carries token totals or an error string.
type streamFragment struct {
	ReqID     string `json:"req_id"`
	Seq       int    `json:"seq"`
	Content   string `json:"content"`
	Final     bool   `json:"final"`
	TokensIn  int    `json:"tokens_in,omitempty"`
	TokensOut int    `json:"tokens_out,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NATSProvider invokes model backends over NATS. Each Stream call publishes
// one request carrying a unique reply subject and converts the fragments
// arriving there into the orchestrator's Fragment sequence.
type NATSProvider struct {
	conn        *nats.Conn
	catalog     *catalog.Catalog
	replyPrefix string
	firstWait   time.Duration
}

func NewNATSProvider(conn *nats.Conn, cat *catalog.Catalog, replyPrefix string, firstWait time.Duration) *NATSProvider {
	return &NATSProvider{
		conn:        conn,
		catalog:     cat,
		replyPrefix: replyPrefix,
		firstWait:   firstWait,
	}
}

func (p *NATSProvider) Stream(ctx context.Context, modelID, prompt string, history []models.Message, opts Options) (<-chan Fragment, error) {
	model, ok := p.catalog.Lookup(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, modelID)
	}

	reqID := ulid.Make().String()
	replyTo := fmt.Sprintf("%s.%s", p.replyPrefix, reqID)

	msgs := make(chan *nats.Msg, 64)
	sub, err := p.conn.ChanSubscribe(replyTo, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply subject: %w", err)
	}

	params := map[string]interface{}{}
	if opts.Temperature != nil {
		params["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		params["max_tokens"] = opts.MaxTokens
	}
	if opts.WebSearch {
		params["web_search"] = true
	}

	req := streamRequest{
		ReqID:   reqID,
		Input:   prompt,
		History: history,
		Params:  params,
		ReplyTo: replyTo,
		Stream:  true,
	}
	data, err := json.Marshal(req)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := p.conn.Publish(model.Subject, data); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%w: publish to %s: %v", ErrUnavailable, model.Subject, err)
	}

	out := make(chan Fragment, 16)
	go p.drain(ctx, reqID, modelID, sub, msgs, out)
	return out, nil
}

// subscription is the slice of *nats.Subscription drain needs.
type subscription interface {
	Unsubscribe() error
}

// drain converts reply messages into Fragments until a final fragment,
// cancellation, or a first-response timeout. Every send honors ctx so a
// cancelled consumer can never strand this goroutine on a full channel.
func (p *NATSProvider) drain(ctx context.Context, reqID, modelID string, sub subscription, msgs chan *nats.Msg, out chan<- Fragment) {
	defer sub.Unsubscribe()
	defer close(out)

	first := time.NewTimer(p.firstWait)
	defer first.Stop()
	received := false

	for {
		var waitFirst <-chan time.Time
		if !received {
			waitFirst = first.C
		}

		select {
		case <-ctx.Done():
			return

		case <-waitFirst:
			select {
			case out <- Fragment{Final: true, Err: fmt.Errorf("%w: %s did not respond", ErrUnavailable, modelID)}:
			case <-ctx.Done():
			}
			return

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var frag streamFragment
			if err := json.Unmarshal(msg.Data, &frag); err != nil {
				select {
				case out <- Fragment{Final: true, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}:
				case <-ctx.Done():
				}
				return
			}
			if frag.ReqID != reqID {
				slog.Warn("Dropping fragment for unknown request", "model", modelID, "req_id", frag.ReqID)
				continue
			}
			received = true

			if frag.Error != "" {
				select {
				case out <- Fragment{Final: true, Err: mapWorkerError(frag.Error)}:
				case <-ctx.Done():
				}
				return
			}
			f := Fragment{Content: frag.Content, Final: frag.Final}
			if frag.Final {
				f.Usage = &models.UsageResult{
					InputTokens:  frag.TokensIn,
					OutputTokens: frag.TokensOut,
				}
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
			if frag.Final {
				return
			}
		}
	}
}
