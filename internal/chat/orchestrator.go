package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/common"
	"github.com/netko/covenote/internal/llm"
)

// KeyResolver yields the decrypted BYOK credential for a (user, provider)
// pair. Satisfied by *byok.Store.
type KeyResolver interface {
	ResolveKey(ctx context.Context, userID uint64, provider string) (string, error)
}

// TurnRequest describes one user-message-in, assistant-message-out cycle.
type TurnRequest struct {
	ChatID      string
	UserID      uint64
	Content     string
	AssistantID *string
	ModelID     *string
	// EventID is an optional client-supplied correlation id, echoed on the
	// persisted user message so optimistic entries reconcile without
	// duplication. Generated server-side when absent.
	EventID string
}

// Turn is a validated, ready-to-run assistant turn. Produced by StartTurn,
// consumed by RunTurn either in-process or by cmd/worker.
type Turn struct {
	ChatID      string
	UserID      uint64
	UserMessage *Message

	channel   string
	model     *Model
	assistant *Assistant
	apiKey    string
}

type Orchestrator struct {
	repo     *Repo
	registry *llm.Registry
	bus      bus.Bus
	keys     KeyResolver
	status   bus.StatusStore

	threshold float64
	keepTail  int

	mu        sync.Mutex
	turnLocks map[string]*chatLock
	active    map[string]context.CancelFunc
}

// chatLock serializes turns on one chat. Entries are refcounted so the map
// does not grow with every chat ever touched on the instance.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestrator(repo *Repo, registry *llm.Registry, b bus.Bus, keys KeyResolver, status bus.StatusStore, threshold float64, keepTail int) *Orchestrator {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.75
	}
	if keepTail <= 0 {
		keepTail = 10
	}
	return &Orchestrator{
		repo:      repo,
		registry:  registry,
		bus:       b,
		keys:      keys,
		status:    status,
		threshold: threshold,
		keepTail:  keepTail,
		turnLocks: make(map[string]*chatLock),
		active:    make(map[string]context.CancelFunc),
	}
}

// StartTurn runs the synchronous half of a turn: validation, persisting the
// user message and echoing it on the bus. All taxonomy errors
// (ErrChatNotFound, ErrModelNotConfigured, ErrCredentialMissing,
// ErrPersistence) surface here, before any provider call; once StartTurn
// returns the caller has a durably saved user message.
//
// Validation precedes persistence: a request naming an unknown model leaves
// no rows behind.
func (o *Orchestrator) StartTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	res, err := o.resolveTurn(ctx, req.ChatID, req.UserID, req.AssistantID, req.ModelID)
	if err != nil {
		return nil, err
	}

	eventID := req.EventID
	if eventID == "" {
		eventID, err = common.NewULID()
		if err != nil {
			return nil, err
		}
	}
	userMsg := &Message{
		ID:          uuid.NewString(),
		ChatID:      res.chat.ID,
		Role:        RoleUser,
		Content:     req.Content,
		AssistantID: res.assistantID,
		ModelID:     res.modelID,
		EventID:     eventID,
	}
	if err := o.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	t := &Turn{
		ChatID:      res.chat.ID,
		UserID:      req.UserID,
		UserMessage: userMsg,
		channel:     bus.Channel(res.chat.ID, req.UserID),
		model:       res.model,
		assistant:   res.assistant,
		apiKey:      res.apiKey,
	}

	// Echo the user's own message to every connected tab/device. The
	// message is already saved; a failed publish never fails the request.
	o.publish(ctx, t.channel, bus.NewMessageCreated(userMsg.EventID, eventMessage(userMsg)))

	return t, nil
}

// TurnRef is the durable reference handed to a queue worker: just ids, the
// rest is re-resolved from storage on the consuming side.
type TurnRef struct {
	ChatID    string
	UserID    uint64
	MessageID string
}

// ResumeTurn rebuilds a Turn from a queued reference and runs it. The user
// message was persisted and echoed by StartTurn on the producing side, so
// this performs resolution only, then drives the stream. Resolution failures
// are reported on the bus as well as returned, since no HTTP response exists
// to carry them by the time a worker picks the turn up.
func (o *Orchestrator) ResumeTurn(ctx context.Context, ref TurnRef) error {
	channel := bus.Channel(ref.ChatID, ref.UserID)
	userMsg, err := o.repo.GetMessage(ctx, ref.MessageID)
	if err != nil {
		dctx := context.WithoutCancel(ctx)
		o.publish(dctx, channel, bus.NewError(newEventID(), "message no longer exists"))
		o.setStatus(dctx, ref.ChatID, bus.StatusError)
		return err
	}
	res, err := o.resolveTurn(ctx, ref.ChatID, ref.UserID, userMsg.AssistantID, userMsg.ModelID)
	if err != nil {
		dctx := context.WithoutCancel(ctx)
		o.publish(dctx, channel, bus.NewError(newEventID(), err.Error()))
		o.setStatus(dctx, ref.ChatID, bus.StatusError)
		return err
	}
	o.RunTurn(ctx, &Turn{
		ChatID:      ref.ChatID,
		UserID:      ref.UserID,
		UserMessage: userMsg,
		channel:     channel,
		model:       res.model,
		assistant:   res.assistant,
		apiKey:      res.apiKey,
	})
	return nil
}

type turnResolution struct {
	chat        *Chat
	model       *Model
	assistant   *Assistant
	assistantID *string
	modelID     *string
	apiKey      string
}

func (o *Orchestrator) resolveTurn(ctx context.Context, chatID string, userID uint64, assistantID, modelID *string) (*turnResolution, error) {
	c, err := o.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if c.CreatedBy != userID {
		// Deliberately indistinguishable from a missing chat.
		return nil, ErrChatNotFound
	}

	if modelID == nil {
		modelID = c.ModelID
	}
	if modelID == nil {
		return nil, ErrModelNotConfigured
	}
	model, err := o.repo.GetModel(ctx, *modelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotConfigured
		}
		return nil, err
	}
	if !model.IsActive {
		return nil, ErrModelNotConfigured
	}

	if assistantID == nil {
		assistantID = c.AssistantID
	}
	var assistant *Assistant
	if assistantID != nil {
		assistant, err = o.repo.GetAssistant(ctx, *assistantID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var apiKey string
	if !o.registry.Keyless(model.Provider) {
		apiKey, err = o.keys.ResolveKey(ctx, userID, model.Provider)
		if err != nil {
			if errors.Is(err, byok.ErrNotFound) {
				return nil, ErrCredentialMissing
			}
			return nil, err
		}
	}

	return &turnResolution{
		chat:        c,
		model:       model,
		assistant:   assistant,
		assistantID: assistantID,
		modelID:     modelID,
		apiKey:      apiKey,
	}, nil
}

// RunTurn drives the turn to a terminal event. Safe to call from a request
// goroutine or a queue worker; turns on the same chat are serialized.
func (o *Orchestrator) RunTurn(ctx context.Context, t *Turn) {
	lock := o.lockChat(t.ChatID)
	defer o.unlockChat(t.ChatID, lock)

	ctx, cancel := context.WithCancel(ctx)
	o.setActive(t.ChatID, cancel)
	defer func() {
		o.clearActive(t.ChatID)
		cancel()
	}()

	o.setStatus(ctx, t.ChatID, bus.StatusGenerating)

	history, err := o.repo.ListMessages(ctx, t.ChatID)
	if err != nil {
		o.failTurn(ctx, t, "failed to load chat history")
		return
	}
	firstUserContent, userTurns := firstUserMessage(history)

	provider, err := o.registry.Get(ctx, t.model.Provider, t.model.Slug, t.apiKey)
	if err != nil {
		o.failTurn(ctx, t, err.Error())
		return
	}
	sp, ok := provider.(llm.StreamProvider)
	if !ok {
		o.failTurn(ctx, t, fmt.Sprintf("provider %s does not support streaming", t.model.Provider))
		return
	}

	if needsSummary(history, t.model.ContextWindow, o.threshold) {
		history, err = o.summarizeHistory(ctx, t, provider, history)
		if err != nil {
			o.failTurn(ctx, t, fmt.Sprintf("summarization failed: %v", err))
			return
		}
	}

	tempID := newTempID()
	o.publish(ctx, t.channel, bus.NewMessageCreated(newEventID(), &bus.EventMessage{
		ID:      tempID,
		ChatID:  t.ChatID,
		Role:    RoleAssistant,
		Content: "",
	}))

	msgs := make([]llm.Message, 0, len(history)+1)
	if t.assistant != nil {
		msgs = append(msgs, llm.Message{Role: RoleSystem, Content: t.assistant.SystemPrompt})
	}
	msgs = append(msgs, toProviderMessages(history)...)

	chunks, provErrs := sp.StreamChat(ctx, msgs)

	// The accumulator is owned by this goroutine only; every streaming
	// event carries the cumulative content, the tolerant form for lossy
	// transports.
	var acc strings.Builder
	for chunk := range chunks {
		acc.WriteString(chunk)
		o.publish(ctx, t.channel, bus.NewStreaming(newEventID(), tempID, acc.String()))
	}
	select {
	case err := <-provErrs:
		if err != nil {
			// Terminal for the turn: no partial assistant row, the
			// user message stays, the client may resubmit.
			o.failTurn(ctx, t, err.Error())
			return
		}
	default:
	}

	// Detached from here on: a cancel that lands after the stream already
	// finished must not suppress persistence or the terminal event.
	ctx = context.WithoutCancel(ctx)

	assistantMsg := &Message{
		ID:          uuid.NewString(),
		ChatID:      t.ChatID,
		Role:        RoleAssistant,
		Content:     acc.String(),
		AssistantID: t.UserMessage.AssistantID,
		ModelID:     t.UserMessage.ModelID,
		EventID:     newEventID(),
	}
	if err := o.repo.InsertMessage(ctx, assistantMsg); err != nil {
		// Durability gap accepted over discarding a user-visible
		// response: deliver the in-memory content anyway.
		log.Printf("orchestrator: assistant message insert failed chat=%s err=%v", t.ChatID, err)
		o.publish(ctx, t.channel, bus.NewCompleted(newEventID(), tempID, &bus.EventMessage{
			ID:      tempID,
			ChatID:  t.ChatID,
			Role:    RoleAssistant,
			Content: acc.String(),
		}))
	} else {
		o.publish(ctx, t.channel, bus.NewCompleted(assistantMsg.EventID, tempID, eventMessage(assistantMsg)))
	}

	o.setStatus(ctx, t.ChatID, bus.StatusComplete)

	// First exchange: rewrite the placeholder title. Fire-and-forget, the
	// completion event above is never blocked on it.
	if userTurns == 1 {
		go o.generateTitle(context.WithoutCancel(ctx), t, provider, firstUserContent)
	}
}

// Cancel aborts the chat's in-flight turn, closing the provider stream. The
// turn terminates with a message_error event.
func (o *Orchestrator) Cancel(chatID string, userID uint64) bool {
	c, err := o.repo.GetChat(context.Background(), chatID)
	if err != nil || c.CreatedBy != userID {
		return false
	}
	o.mu.Lock()
	cancel, ok := o.active[chatID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) summarizeHistory(ctx context.Context, t *Turn, provider llm.Provider, history []Message) ([]Message, error) {
	older, tail := splitForSummary(history, o.keepTail)
	if len(older) == 0 {
		return history, nil
	}

	summary, err := summarize(ctx, provider, older)
	if err != nil {
		return nil, err
	}

	sysMsg := &Message{
		ID:      uuid.NewString(),
		ChatID:  t.ChatID,
		Role:    RoleSystem,
		Content: summaryPrefix + summary,
		Metadata: Metadata{
			"type":                   "summary",
			"original_message_count": len(older),
		},
		EventID: newEventID(),
	}
	if err := o.repo.InsertMessage(ctx, sysMsg); err != nil {
		return nil, err
	}
	o.publish(ctx, t.channel, bus.NewSummarized(sysMsg.EventID, summary))

	condensed := make([]Message, 0, len(tail)+1)
	condensed = append(condensed, *sysMsg)
	condensed = append(condensed, tail...)
	return condensed, nil
}

func (o *Orchestrator) generateTitle(ctx context.Context, t *Turn, provider llm.Provider, firstMessage string) {
	title, err := generateTitle(ctx, provider, firstMessage)
	if err != nil || title == "" {
		log.Printf("orchestrator: title generation failed chat=%s err=%v", t.ChatID, err)
		return
	}
	if err := o.repo.UpdateChatTitle(ctx, t.ChatID, title); err != nil {
		log.Printf("orchestrator: title update failed chat=%s err=%v", t.ChatID, err)
		return
	}
	o.publish(ctx, t.channel, bus.NewTitleGenerated(newEventID(), title))
}

func (o *Orchestrator) failTurn(ctx context.Context, t *Turn, reason string) {
	// The turn context may already be cancelled (user cancel, worker
	// shutdown). The terminal event and the status write must still go
	// out, or subscribers on a context-respecting bus backend would see
	// the turn hang forever.
	ctx = context.WithoutCancel(ctx)
	log.Printf("orchestrator: turn failed chat=%s reason=%s", t.ChatID, reason)
	o.publish(ctx, t.channel, bus.NewError(newEventID(), reason))
	o.setStatus(ctx, t.ChatID, bus.StatusError)
}

func (o *Orchestrator) publish(ctx context.Context, channel string, e *bus.Event) {
	if err := o.bus.Publish(ctx, channel, e); err != nil {
		log.Printf("orchestrator: publish failed channel=%s type=%s err=%v", channel, e.Type, err)
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, chatID, status string) {
	if o.status == nil {
		return
	}
	if err := o.status.SetStatus(ctx, chatID, status); err != nil {
		log.Printf("orchestrator: status update failed chat=%s err=%v", chatID, err)
	}
}

func (o *Orchestrator) lockChat(chatID string) *chatLock {
	o.mu.Lock()
	l := o.turnLocks[chatID]
	if l == nil {
		l = &chatLock{}
		o.turnLocks[chatID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return l
}

func (o *Orchestrator) unlockChat(chatID string, l *chatLock) {
	l.mu.Unlock()
	o.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(o.turnLocks, chatID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setActive(chatID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.active[chatID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) clearActive(chatID string) {
	o.mu.Lock()
	delete(o.active, chatID)
	o.mu.Unlock()
}

func firstUserMessage(history []Message) (content string, count int) {
	for _, m := range history {
		if m.Role == RoleUser {
			if count == 0 {
				content = m.Content
			}
			count++
		}
	}
	return content, count
}

func eventMessage(m *Message) *bus.EventMessage {
	return &bus.EventMessage{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Role:        m.Role,
		Content:     m.Content,
		AssistantID: m.AssistantID,
		ModelID:     m.ModelID,
		EventID:     m.EventID,
		CreatedAt:   m.CreatedAt,
	}
}

func newEventID() string {
	id, _ := common.NewULID()
	return id
}

func newTempID() string {
	id, _ := common.NewULID()
	return "temp-" + id
}
