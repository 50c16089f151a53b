package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicbot/internal/articulation"
	"civicbot/internal/logging"
	"civicbot/internal/perception"
	"civicbot/internal/sanitize"
	"civicbot/internal/store"
	"civicbot/internal/types"
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Config holds what the controller needs to build prompts and bound turns.
type Config struct {
	CityName    string
	Locality    string
	Language    string
	MaxEvents   int
	Documents   []types.KnownDocument
	TurnTimeout time.Duration // <= 0 means no extra deadline
}

// Turn is the outcome of one question.
type Turn struct {
	ConversationID string
	Question       string
	Message        types.DisplayMessage
	Window         sanitize.WindowKind
	Warnings       []string
	Duration       time.Duration
}

// Controller runs turns. Turns of the same conversation are serialized;
// different conversations run in parallel.
type Controller struct {
	llm       perception.LLMClient
	extractor *articulation.Extractor
	sanitizer *sanitize.Sanitizer
	ledgers   store.LedgerStore // nil keeps ledgers in memory only
	now       func() time.Time

	mu    sync.Mutex // guards cfg and convs
	cfg   Config
	convs map[string]*conversation
}

// conversation is the in-memory state of one id. refs and lastUsed are
// guarded by Controller.mu; an entry with refs > 0 is never removed, so two
// turns for the same id always share one mutex.
type conversation struct {
	mu     sync.Mutex
	ledger *Ledger
	loaded bool

	refs     int
	lastUsed time.Time
}

// NewController wires a controller. ledgers may be nil.
func NewController(llm perception.LLMClient, ex *articulation.Extractor, s *sanitize.Sanitizer, ledgers store.LedgerStore, cfg Config) *Controller {
	if ex == nil {
		ex = articulation.NewExtractor(nil)
	}
	if s == nil {
		s = sanitize.New(sanitize.Options{})
	}
	return &Controller{
		llm:       llm,
		extractor: ex,
		sanitizer: s,
		ledgers:   ledgers,
		now:       time.Now,
		cfg:       cfg,
		convs:     make(map[string]*conversation),
	}
}

// NewConversationID returns a fresh conversation id.
func NewConversationID() string {
	return uuid.NewString()
}

// Ask answers one citizen question in conversation convID.
func (c *Controller) Ask(ctx context.Context, convID, question string) (*Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	kind, _ := perception.DetectTemporalWindow(question)
	return c.run(ctx, convID, question, kind, false)
}

// MoreEvents asks for further events, excluding titles already shown.
func (c *Controller) MoreEvents(ctx context.Context, convID string) (*Turn, error) {
	return c.run(ctx, convID, "", sanitize.WindowNone, true)
}

// Reset forgets everything shown in convID, in memory and in the store.
// With a store the in-memory entry is dropped as well.
func (c *Controller) Reset(ctx context.Context, convID string) error {
	conv := c.acquire(convID)
	err := c.reset(ctx, convID, conv)
	c.release(conv)
	if err != nil {
		return err
	}
	if c.ledgers != nil {
		c.Forget(convID)
	}
	logging.Get(logging.CategorySession).Info("conversation %s reset", convID)
	return nil
}

func (c *Controller) reset(ctx context.Context, convID string, conv *conversation) error {
	conv.mu.Lock()
	defer conv.mu.Unlock()

	conv.ledger.Reset()
	conv.loaded = true
	if c.ledgers != nil {
		if err := c.ledgers.ClearSeenKeys(ctx, convID); err != nil {
			return fmt.Errorf("failed to clear ledger for %s: %w", convID, err)
		}
	}
	return nil
}

// Forget drops the in-memory state of convID without touching the store.
// It reports false, and keeps the entry, while a turn for convID is running.
func (c *Controller) Forget(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[convID]
	if !ok {
		return true
	}
	if conv.refs > 0 {
		return false
	}
	delete(c.convs, convID)
	return true
}

// EvictIdle forgets conversations unused for at least maxIdle and returns how
// many were dropped. Conversations with a running turn are kept.
func (c *Controller) EvictIdle(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, conv := range c.convs {
		if conv.refs == 0 && now.Sub(conv.lastUsed) >= maxIdle {
			delete(c.convs, id)
			n++
		}
	}
	return n
}

// RunJanitor calls EvictIdle every interval until ctx is done.
func (c *Controller) RunJanitor(ctx context.Context, maxIdle, interval time.Duration) error {
	if maxIdle <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = maxIdle / 2
	}
	log := logging.Get(logging.CategorySession)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.EvictIdle(maxIdle); n > 0 {
				log.Debug("evicted %d idle conversations", n)
			}
		}
	}
}

// Conversations returns how many conversations are held in memory.
func (c *Controller) Conversations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.convs)
}

// SetDocuments replaces the known documents used by later turns.
func (c *Controller) SetDocuments(docs []types.KnownDocument) {
	c.mu.Lock()
	c.cfg.Documents = docs
	c.mu.Unlock()
}

// SetLocality replaces the locality named in later system prompts.
func (c *Controller) SetLocality(locality string) {
	c.mu.Lock()
	c.cfg.Locality = locality
	c.mu.Unlock()
}

func (c *Controller) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SeenKeys returns the ledger keys of convID.
func (c *Controller) SeenKeys(ctx context.Context, convID string) ([]string, error) {
	conv := c.acquire(convID)
	defer c.release(conv)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if err := c.load(ctx, convID, conv); err != nil {
		return nil, err
	}
	return conv.ledger.Keys(), nil
}

// acquire returns the entry for convID and pins it until release.
func (c *Controller) acquire(convID string) *conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[convID]
	if !ok {
		conv = &conversation{ledger: NewLedger()}
		c.convs[convID] = conv
	}
	conv.refs++
	conv.lastUsed = c.now()
	return conv
}

func (c *Controller) release(conv *conversation) {
	c.mu.Lock()
	conv.refs--
	conv.lastUsed = c.now()
	c.mu.Unlock()
}

// load reads persisted keys once per conversation. Caller holds conv.mu.
func (c *Controller) load(ctx context.Context, convID string, conv *conversation) error {
	if conv.loaded || c.ledgers == nil {
		conv.loaded = true
		return nil
	}
	keys, err := c.ledgers.LoadSeenKeys(ctx, convID)
	if err != nil {
		return fmt.Errorf("failed to load ledger for %s: %w", convID, err)
	}
	for _, k := range keys {
		conv.ledger.Add(k)
	}
	conv.loaded = true
	return nil
}

func (c *Controller) run(ctx context.Context, convID, question string, kind sanitize.WindowKind, more bool) (*Turn, error) {
	if c.llm == nil {
		return nil, errors.New("no language model configured")
	}
	log := logging.Get(logging.CategorySession).With("conversation", convID)
	start := time.Now()

	cfg := c.config()
	conv := c.acquire(convID)
	defer c.release(conv)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if err := c.load(ctx, convID, conv); err != nil {
		log.Warn("continuing with empty ledger: %v", err)
		conv.loaded = true
	}

	if more {
		question = articulation.MoreEventsPrompt(conv.ledger.Titles())
	}

	system := articulation.BuildSystemPrompt(articulation.PromptContext{
		CityName:  cfg.CityName,
		Locality:  cfg.Locality,
		Language:  cfg.Language,
		Today:     c.sanitizer.Today(),
		MaxEvents: cfg.MaxEvents,
		Documents: cfg.Documents,
	})

	llmCtx := ctx
	if cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, cfg.TurnTimeout)
		defer cancel()
	}
	raw, err := c.llm.CompleteWithSystem(llmCtx, system, question)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	ex := c.extractor.Extract(raw, cfg.Documents)
	res := c.sanitizer.Sanitize(ctx, ex, conv.ledger, kind)

	if c.ledgers != nil && len(res.NewlySeenKeys) > 0 {
		if err := c.ledgers.AppendSeenKeys(ctx, convID, res.NewlySeenKeys); err != nil {
			log.Error("failed to persist %d ledger keys: %v", len(res.NewlySeenKeys), err)
		}
	}

	turn := &Turn{
		ConversationID: convID,
		Question:       question,
		Message:        res.Message,
		Window:         kind,
		Warnings:       ex.Warnings,
		Duration:       time.Since(start),
	}
	log.Info("turn done in %v: events=%d places=%d hasMore=%t structured=%t window=%q",
		turn.Duration, len(res.Message.Events), len(res.Message.Places), res.Message.HasMoreEvents,
		res.Message.HasStructuredContent(), kind)
	return turn, nil
}
