package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/metrics"
	"github.com/zhouzirui/parley/backend/internal/model/chat"
	"github.com/zhouzirui/parley/backend/internal/repository"
	"github.com/zhouzirui/parley/backend/internal/service/ai"
)

// ErrGeneration wraps provider failures while opening or reading a stream.
var ErrGeneration = errors.New("generation failed")

// State is a turn's position in its lifecycle.
type State string

const (
	StateIdle                State = "idle"
	StateValidating          State = "validating"
	StatePersistingUser      State = "persisting_user_message"
	StateResolving           State = "resolving_model"
	StateStreaming           State = "streaming"
	StatePersistingAssistant State = "persisting_assistant_message"
	StateDone                State = "done"
	StateRejected            State = "rejected"
	StateFailed              State = "failed"
	StateCancelled           State = "cancelled"
)

// TurnRequest is one submitted turn: the client's full history plus the
// provider selection resolved for the user.
type TurnRequest struct {
	SessionID string
	Owner     string
	Messages  []chat.IncomingMessage
	Selection ai.Selection
}

// Result describes a finished stream.
type Result struct {
	MessageID string
	Text      string
	Persisted bool
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	store    Store
	resolver *ai.Resolver
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	titleMax int
}

// NewOrchestrator wires a turn orchestrator. titleMax bounds derived titles in runes.
func NewOrchestrator(store Store, resolver *ai.Resolver, m *metrics.Metrics, log logrus.FieldLogger, titleMax int) *Orchestrator {
	return &Orchestrator{
		store:    store,
		resolver: resolver,
		metrics:  m,
		log:      log,
		titleMax: titleMax,
	}
}

// Prepare validates the request, registers the session, stores the newest
// user message, resolves the model and opens its stream. Nothing has been
// sent to the caller when Prepare returns, so its errors can still be
// reported as a plain response. The user message stays stored when a later
// step fails.
func (o *Orchestrator) Prepare(ctx context.Context, req TurnRequest) (*Turn, error) {
	t := &Turn{
		orch:      o,
		sessionID: req.SessionID,
		state:     StateIdle,
		log: o.log.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"user_id":    req.Owner,
		}),
	}

	t.transition(StateValidating)
	if req.SessionID == "" {
		return nil, t.reject(ErrMissingSession)
	}
	if req.Owner == "" {
		return nil, t.reject(ErrUnauthorized)
	}
	latest, err := latestUserMessage(req.Messages)
	if err != nil {
		return nil, t.reject(err)
	}

	title, err := o.titleFor(ctx, t, req)
	if err != nil {
		return nil, t.reject(err)
	}

	o.checkSequence(ctx, t, len(req.Messages)-1)

	t.transition(StatePersistingUser)
	if err := o.store.UpsertSession(ctx, req.SessionID, req.Owner, title); err != nil {
		if errors.Is(err, repository.ErrOwnerMismatch) {
			return nil, t.reject(ErrForbidden)
		}
		o.persistFailed(t, "upsert_session", err)
	}

	userMsg := &chat.Message{
		SessionID: req.SessionID,
		Role:      chat.RoleUser,
		Parts:     latest.Parts,
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		o.persistFailed(t, "append_user_message", err)
	}

	t.transition(StateResolving)
	completion, err := o.resolver.Resolve(ctx, req.Selection)
	if err != nil {
		return nil, t.reject(err)
	}
	t.provider = completion.Provider
	t.model = completion.Model
	t.log = t.log.WithFields(logrus.Fields{"provider": t.provider, "model": t.model})

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := completion.Stream(streamCtx, toSchemaMessages(req.Messages))
	if err != nil {
		cancel()
		return nil, t.reject(fmt.Errorf("%w: %v", ErrGeneration, err))
	}

	t.stream = stream
	t.cancel = cancel
	t.messageID = uuid.NewString()
	return t, nil
}

// titleFor returns the title to register, or "" to leave the stored one
// alone. A title is derived only while the stored title is blank, so a turn
// that failed before its session was written gets one on the next attempt.
func (o *Orchestrator) titleFor(ctx context.Context, t *Turn, req TurnRequest) (string, error) {
	session, err := o.store.GetSession(ctx, req.SessionID)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		return DeriveTitle(req.Messages, o.titleMax), nil
	case err != nil:
		t.log.WithError(err).Warn("[chat] session lookup failed, keeping stored title")
		return "", nil
	case session.UserID != "" && session.UserID != req.Owner:
		return "", ErrForbidden
	case session.Title == "":
		return DeriveTitle(req.Messages, o.titleMax), nil
	default:
		return "", nil
	}
}

// checkSequence logs when the stored conversation and the submitted history
// disagree on how many messages precede this turn. The turn proceeds either way.
func (o *Orchestrator) checkSequence(ctx context.Context, t *Turn, prior int) {
	stored, err := o.store.CountMessages(ctx, t.sessionID)
	if err != nil {
		t.log.WithError(err).Debug("[chat] sequence check skipped")
		return
	}
	if stored != int64(prior) {
		t.log.WithFields(logrus.Fields{
			"stored":    stored,
			"submitted": prior,
		}).Warn("[chat] history out of step with stored conversation")
	}
}

func (o *Orchestrator) persistFailed(t *Turn, op string, err error) {
	t.log.WithError(err).WithField("operation", op).Error("[chat] persistence failed")
	o.metrics.PersistFailed(op)
	t.warnings = append(t.warnings, op)
}

// Turn is a prepared turn whose model stream is open.
type Turn struct {
	orch      *Orchestrator
	log       logrus.FieldLogger
	sessionID string
	messageID string
	provider  string
	model     string
	warnings  []string

	mu    sync.Mutex
	state State

	stream    *schema.StreamReader[*schema.Message]
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SessionID is the turn's session.
func (t *Turn) SessionID() string { return t.sessionID }

// MessageID is the id the assistant message will be stored under.
func (t *Turn) MessageID() string { return t.messageID }

// Provider is the resolved provider key.
func (t *Turn) Provider() string { return t.provider }

// Model is the resolved model id.
func (t *Turn) Model() string { return t.model }

// Warnings lists the pre-stream writes that failed.
func (t *Turn) Warnings() []string { return append([]string(nil), t.warnings...) }

// State reports the current lifecycle state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) transition(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.log.WithField("state", s).Debug("[chat] turn state")
}

func (t *Turn) reject(err error) error {
	t.transition(StateRejected)
	t.log.WithError(err).Warn("[chat] turn rejected")
	t.orch.metrics.TurnFinished(metrics.OutcomeRejected, t.provider)
	return err
}

// Close releases the model stream without running it.
func (t *Turn) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if t.stream != nil {
			t.stream.Close()
		}
	})
}

// Run relays the model output to emit as it arrives and stores the assistant
// message once the stream reaches EOF. Cancellation of ctx before then, an
// emit error, or a provider error ends the turn without storing anything. A failed
// assistant write is logged only; the text has already been delivered.
func (t *Turn) Run(ctx context.Context, emit func(delta string) error) (Result, error) {
	defer t.Close()

	result := Result{MessageID: t.messageID}
	t.transition(StateStreaming)
	started := time.Now()

	chunks := make([]*schema.Message, 0, 16)
	for {
		chunk, err := t.stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, t.abort(ctxErr)
			}
			return result, t.fail(fmt.Errorf("%w: %v", ErrGeneration, err))
		}
		if chunk == nil {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, t.abort(ctxErr)
		}

		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}
		if err := emit(chunk.Content); err != nil {
			return result, t.abort(fmt.Errorf("deliver chunk: %w", err))
		}
	}
	t.orch.metrics.ObserveStream(time.Since(started))

	if len(chunks) > 0 {
		response, err := schema.ConcatMessages(chunks)
		if err != nil {
			return result, t.fail(fmt.Errorf("assemble response: %w", err))
		}
		result.Text = response.Content
	}

	t.transition(StatePersistingAssistant)
	msg := &chat.Message{
		ID:        t.messageID,
		SessionID: t.sessionID,
		Role:      chat.RoleAssistant,
		Parts:     chat.Parts{chat.TextPart(result.Text)},
	}
	// EOF is natural completion; a hang-up after it must not drop the write.
	if err := t.orch.store.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		t.orch.persistFailed(t, "append_assistant_message", err)
	} else {
		result.Persisted = true
	}

	t.transition(StateDone)
	t.orch.metrics.TurnFinished(metrics.OutcomeCompleted, t.provider)
	t.log.WithField("length", len(result.Text)).Info("[chat] turn completed")
	return result, nil
}

func (t *Turn) abort(err error) error {
	t.transition(StateCancelled)
	t.log.WithError(err).Info("[chat] turn cancelled, assistant message discarded")
	t.orch.metrics.TurnFinished(metrics.OutcomeCancelled, t.provider)
	return err
}

func (t *Turn) fail(err error) error {
	t.transition(StateFailed)
	t.log.WithError(err).Error("[chat] stream failed, assistant message discarded")
	t.orch.metrics.TurnFinished(metrics.OutcomeFailed, t.provider)
	return err
}

func latestUserMessage(history []chat.IncomingMessage) (chat.IncomingMessage, error) {
	if len(history) == 0 {
		return chat.IncomingMessage{}, fmt.Errorf("%w: no messages", ErrInvalidHistory)
	}
	latest := -1
	for i, msg := range history {
		if !msg.Role.Valid() {
			return chat.IncomingMessage{}, fmt.Errorf("%w: message %d has role %q", ErrInvalidHistory, i, msg.Role)
		}
		if msg.Role == chat.RoleUser {
			latest = i
		}
	}
	if latest < 0 {
		return chat.IncomingMessage{}, fmt.Errorf("%w: no user message", ErrInvalidHistory)
	}
	return history[latest], nil
}

func toSchemaMessages(history []chat.IncomingMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		text := msg.Parts.Text()
		switch msg.Role {
		case chat.RoleUser:
			out = append(out, schema.UserMessage(text))
		case chat.RoleAssistant:
			if text != "" {
				out = append(out, schema.AssistantMessage(text, nil))
			}
		}
	}
	return out
}
