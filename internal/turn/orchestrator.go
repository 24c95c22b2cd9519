// Package turn implements the per-turn orchestration protocol: persist
// the user message, recall related long-term memory, assemble the
// context window, generate a reply, emit it, and persist the reply and
// its embedding for future recall.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TRQoder/cofounder/internal/memory"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/provider"
	"github.com/TRQoder/cofounder/internal/store"
)

// Config tunes the orchestration protocol.
type Config struct {
	// RecallK is how many long-term memories a recall query returns.
	RecallK int

	// WindowSize bounds the short-term history passed to generation.
	WindowSize int

	// CallTimeout bounds each external call so a hung service fails the
	// turn instead of stalling it forever.
	CallTimeout time.Duration

	// RecallScope controls the recall query filter: "global" searches
	// all indexed content, "user" and "chat" narrow it.
	RecallScope string
}

// DefaultConfig matches the protocol constants of the original service.
var DefaultConfig = Config{
	RecallK:     3,
	WindowSize:  20,
	CallTimeout: 30 * time.Second,
	RecallScope: "global",
}

// Orchestrator drives the four external collaborators through the turn
// protocol. All handles are injected so tests can substitute fakes.
type Orchestrator struct {
	store    store.Storage
	index    memory.Index
	provider provider.Provider
	obs      *observe.Observer
	bus      *EventBus
	cfg      Config
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides the default protocol configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.RecallK > 0 {
			o.cfg.RecallK = cfg.RecallK
		}
		if cfg.WindowSize > 0 {
			o.cfg.WindowSize = cfg.WindowSize
		}
		if cfg.CallTimeout > 0 {
			o.cfg.CallTimeout = cfg.CallTimeout
		}
		if cfg.RecallScope != "" {
			o.cfg.RecallScope = cfg.RecallScope
		}
	}
}

// WithEventBus attaches an event bus for turn lifecycle events.
func WithEventBus(bus *EventBus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// New creates an orchestrator over the given collaborators.
func New(s store.Storage, idx memory.Index, p provider.Provider, obs *observe.Observer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		index:    idx,
		provider: p,
		obs:      obs,
		bus:      NewEventBus(),
		cfg:      DefaultConfig,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bus returns the orchestrator's event bus.
func (o *Orchestrator) Bus() *EventBus {
	return o.bus
}

// EmitFunc delivers the reply to the originating session. It is called
// before the reply is durably persisted, trading a small durability
// window for perceived latency.
type EmitFunc func(reply string)

// HandleTurn runs the full protocol for one inbound user message and
// returns the generated reply. When the returned error is non-nil and
// emit was never called, no reply was produced for this turn; an error
// after emission means reply persistence is incomplete.
func (o *Orchestrator) HandleTurn(ctx context.Context, chatID, userID, text string, emit EmitFunc) (string, error) {
	ctx, span := o.obs.StartTurnSpan(ctx, "HandleTurn", chatID, userID)
	defer span.End()

	o.bus.PublishWithData(EventTurnStart, chatID, userID, nil)

	// Stage 1: persist the user message and embed it, concurrently.
	// Either failure aborts the turn before anything else happens.
	var (
		userMsg *store.Message
		userVec []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msg, err := o.createMessage(gctx, chatID, userID, store.RoleUser, text)
		if err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}
		userMsg = msg
		return nil
	})
	g.Go(func() error {
		vec, err := o.embed(gctx, text)
		if err != nil {
			return fmt.Errorf("embed user message: %w", err)
		}
		userVec = vec
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", o.fail(chatID, userID, "ingest", err)
	}

	// Stage 2: recall long-term memory and index the user message,
	// concurrently. The two operate on independent keys; a failed
	// upsert leaves a pairing gap but does not abort the turn, while a
	// failed query does.
	userRec := memory.Record{
		ID:     userMsg.ID,
		Vector: userVec,
		ChatID: chatID,
		UserID: userID,
		Text:   text,
	}

	var (
		wg        sync.WaitGroup
		matches   []memory.Match
		queryErr  error
		upsertErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		matches, queryErr = o.query(ctx, userVec, o.recallFilter(chatID, userID))
	}()
	go func() {
		defer wg.Done()
		upsertErr = o.upsert(ctx, userRec)
	}()
	wg.Wait()

	if queryErr != nil {
		return "", o.fail(chatID, userID, "recall", queryErr)
	}
	if upsertErr != nil {
		o.pairingGap(chatID, userID, userMsg.ID, upsertErr)
	}

	// The query is meant to see the pre-upsert index state; when the
	// concurrent upsert lands first, drop our own record so a message
	// is never recalled as history for itself. The query over-fetched
	// by one, so the exclusion still leaves a full set of matches.
	matches = excludeRecord(matches, userMsg.ID)
	if len(matches) > o.cfg.RecallK {
		matches = matches[:o.cfg.RecallK]
	}
	o.bus.PublishWithData(EventRecallDone, chatID, userID, map[string]interface{}{"matches": len(matches)})

	// Stage 3: short-term window, newest-first from the store, then
	// reversed to chronological order.
	recent, err := o.recentMessages(ctx, chatID)
	if err != nil {
		return "", o.fail(chatID, userID, "short-term window", err)
	}
	reverseMessages(recent)

	// Stage 4 + 5: assemble the context window and generate.
	window := assembleWindow(matches, recent)
	reply, err := o.generate(ctx, window)
	if err != nil {
		return "", o.fail(chatID, userID, "generate", err)
	}

	// Stage 6: emit before the reply is durably persisted.
	if emit != nil {
		emit(reply)
	}
	o.bus.PublishWithData(EventReplyEmitted, chatID, userID, nil)

	// Stage 7: persist the reply and embed it, concurrently. The reply
	// is already with the user, so a failure here degrades durability
	// rather than the turn's outcome.
	var (
		replyMsg *store.Message
		replyVec []float32
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		msg, err := o.createMessage(gctx, chatID, userID, store.RoleModel, reply)
		if err != nil {
			return fmt.Errorf("persist reply: %w", err)
		}
		replyMsg = msg
		return nil
	})
	g.Go(func() error {
		vec, err := o.embed(gctx, reply)
		if err != nil {
			return fmt.Errorf("embed reply: %w", err)
		}
		replyVec = vec
		return nil
	})
	if err := g.Wait(); err != nil {
		o.obs.Log().Error().Str("chat", chatID).Err(err).Msg("reply persistence incomplete")
		o.bus.PublishWithData(EventTurnFailed, chatID, userID, map[string]interface{}{"stage": "commit reply", "error": err.Error()})
		return reply, err
	}

	// Stage 8: index the reply. Failure is a pairing gap.
	replyRec := memory.Record{
		ID:     replyMsg.ID,
		Vector: replyVec,
		ChatID: chatID,
		UserID: userID,
		Text:   reply,
	}
	if err := o.upsert(ctx, replyRec); err != nil {
		o.pairingGap(chatID, userID, replyMsg.ID, err)
	}

	if err := o.store.TouchChat(ctx, chatID); err != nil {
		o.obs.Log().Warn().Str("chat", chatID).Err(err).Msg("failed to update chat activity")
	}

	o.obs.Log().Info().
		Str("chat", chatID).
		Str("user", userID).
		Int("window", len(window)).
		Int("recalled", len(matches)).
		Msg("turn complete")
	o.bus.PublishWithData(EventTurnComplete, chatID, userID, nil)
	return reply, nil
}

// fail logs a stage failure, publishes it, and returns the error that
// aborts the turn.
func (o *Orchestrator) fail(chatID, userID, stage string, err error) error {
	o.obs.Log().Error().
		Str("chat", chatID).
		Str("user", userID).
		Str("stage", stage).
		Err(err).
		Msg("turn aborted")
	o.bus.PublishWithData(EventTurnFailed, chatID, userID, map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})
	return err
}

// recallFilter maps the configured scope onto an index metadata filter.
// The default is an unscoped search spanning all indexed content, which
// matches the original behavior; "user" and "chat" are hardening
// options.
func (o *Orchestrator) recallFilter(chatID, userID string) map[string]string {
	switch o.cfg.RecallScope {
	case "chat":
		return map[string]string{"chat_id": chatID}
	case "user":
		return map[string]string{"user_id": userID}
	default:
		return nil
	}
}

func (o *Orchestrator) pairingGap(chatID, userID, messageID string, err error) {
	o.obs.Log().Warn().
		Str("chat", chatID).
		Str("message", messageID).
		Err(err).
		Msg("embedding record missing for persisted message")
	o.bus.PublishWithData(EventPairingGap, chatID, userID, map[string]interface{}{
		"message_id": messageID,
		"error":      err.Error(),
	})
}

// excludeRecord drops the match with the given ID, if present.
func excludeRecord(matches []memory.Match, id string) []memory.Match {
	out := matches[:0]
	for _, m := range matches {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// Bounded wrappers around the external collaborators. Each call gets
// its own timeout so one hung service fails the turn instead of
// wedging it.

func (o *Orchestrator) createMessage(ctx context.Context, chatID, userID, role, content string) (*store.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.store.CreateMessage(ctx, chatID, userID, role, content)
}

func (o *Orchestrator) recentMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.store.RecentMessages(ctx, chatID, o.cfg.WindowSize)
}

func (o *Orchestrator) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.provider.Embed(ctx, text)
}

func (o *Orchestrator) generate(ctx context.Context, window []provider.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.provider.Generate(ctx, window)
}

func (o *Orchestrator) query(ctx context.Context, vector []float32, filter map[string]string) ([]memory.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	// One extra slot covers the turn's own record showing up when the
	// concurrent upsert wins the race.
	return o.index.Query(ctx, vector, o.cfg.RecallK+1, filter)
}

func (o *Orchestrator) upsert(ctx context.Context, rec memory.Record) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.index.Upsert(ctx, rec)
}
