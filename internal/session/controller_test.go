package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicbot/internal/articulation"
	"civicbot/internal/perception"
	"civicbot/internal/sanitize"
	"civicbot/internal/store"
	"civicbot/internal/types"
)

// scriptedLLM replies with the next canned answer and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	systems []string
	users   []string
	err     error
	delay   time.Duration
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems = append(s.systems, system)
	s.users = append(s.users, user)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "Nada más.", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type failingLedger struct{ store.LedgerStore }

func (failingLedger) LoadSeenKeys(context.Context, string) ([]string, error) {
	return nil, errors.New("disk on fire")
}

func (failingLedger) AppendSeenKeys(context.Context, string, []string) error {
	return errors.New("disk on fire")
}

func eventCard(title, date string) string {
	return articulation.EventCardStart + `{"title":"` + title + `","date":"` + date + `"}` + articulation.EventCardEnd
}

// gateLLM blocks every call until release is closed.
type gateLLM struct {
	started chan struct{}
	release chan struct{}
}

func (g *gateLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return g.CompleteWithSystem(ctx, "", prompt)
}

func (g *gateLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return eventCard("Feria", "2025-06-13"), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newTestController(t *testing.T, llm perception.LLMClient, ledgers store.LedgerStore) *Controller {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC) }
	s := sanitize.New(sanitize.Options{Clock: clock, DropPast: true, MaxDisplay: 2})
	return NewController(llm, articulation.NewExtractor(nil), s, ledgers, Config{
		CityName:  "Sevilla",
		MaxEvents: 2,
		Documents: []types.KnownDocument{{ProcedureName: "Padrón", FileRef: "files/padron.pdf"}},
	})
}

func TestController_AskDedupesAcrossTurns(t *testing.T) {
	reply := "Agenda:\n" + eventCard("Feria", "2025-06-13") + eventCard("Feria", "2025-06-14") + eventCard("Cine", "2025-06-20")
	llm := &scriptedLLM{replies: []string{reply, reply}}
	c := newTestController(t, llm, nil)
	ctx := context.Background()

	first, err := c.Ask(ctx, "conv", "¿Qué hay este mes?")
	require.NoError(t, err)
	require.Len(t, first.Message.Events, 2)
	assert.Equal(t, "2025-06-14", first.Message.Events[1].EndDate)
	assert.Equal(t, "Agenda:", first.Message.Text)

	second, err := c.Ask(ctx, "conv", "¿Qué hay este mes?")
	require.NoError(t, err)
	assert.Empty(t, second.Message.Events)

	other, err := c.Ask(ctx, "other-conv", "¿Qué hay?")
	require.NoError(t, err)
	assert.Empty(t, other.Message.Events, "script ran out; default reply has no events")

	assert.Contains(t, llm.systems[0], "Sevilla")
	assert.Contains(t, llm.systems[0], "- Padrón")
	assert.Contains(t, llm.systems[0], "Today is 2025-06-10")
}

func TestController_AskDetectsWindow(t *testing.T) {
	llm := &scriptedLLM{replies: []string{eventCard("Feria", "2025-06-14") + eventCard("Cine", "2025-06-20")}}
	c := newTestController(t, llm, nil)

	turn, err := c.Ask(context.Background(), "conv", "¿Qué hacer este fin de semana?")
	require.NoError(t, err)
	assert.Equal(t, sanitize.WindowThisWeekend, turn.Window)
	require.Len(t, turn.Message.Events, 1)
	assert.Equal(t, "Feria", turn.Message.Events[0].Title)
}

func TestController_AskEmpty(t *testing.T) {
	c := newTestController(t, &scriptedLLM{}, nil)
	_, err := c.Ask(context.Background(), "conv", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestController_LLMErrorFailsTurn(t *testing.T) {
	c := newTestController(t, &scriptedLLM{err: errors.New("quota")}, nil)
	_, err := c.Ask(context.Background(), "conv", "hola")
	assert.ErrorContains(t, err, "quota")
}

func TestController_TurnTimeout(t *testing.T) {
	llm := &scriptedLLM{delay: time.Second}
	c := newTestController(t, llm, nil)
	c.cfg.TurnTimeout = 20 * time.Millisecond

	_, err := c.Ask(context.Background(), "conv", "hola")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_MoreEventsExcludesShownTitles(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		eventCard("Feria", "2025-06-13") + eventCard("Cine", "2025-06-20") + eventCard("Teatro", "2025-06-21"),
		eventCard("Teatro", "2025-06-21") + eventCard("Feria", "2025-06-13"),
	}}
	c := newTestController(t, llm, nil)
	ctx := context.Background()

	first, err := c.Ask(ctx, "conv", "eventos")
	require.NoError(t, err)
	assert.Len(t, first.Message.Events, 2)
	assert.True(t, first.Message.HasMoreEvents)

	more, err := c.MoreEvents(ctx, "conv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(llm.users[1], "Show me more upcoming events, excluding:"))
	assert.Contains(t, llm.users[1], "feria")
	// Every novel event was recorded before the cap, so the third card is not repeated.
	assert.Empty(t, more.Message.Events)
}

func TestController_PersistsAndReloadsLedger(t *testing.T) {
	db, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	reply := eventCard("Feria", "2025-06-13")
	c1 := newTestController(t, &scriptedLLM{replies: []string{reply}}, db)
	turn, err := c1.Ask(ctx, "conv", "eventos")
	require.NoError(t, err)
	require.Len(t, turn.Message.Events, 1)

	keys, err := db.LoadSeenKeys(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, []string{"feria+2025-06-13"}, keys)

	// A fresh controller (e.g. after restart) sees the persisted ledger.
	c2 := newTestController(t, &scriptedLLM{replies: []string{reply}}, db)
	turn, err = c2.Ask(ctx, "conv", "eventos")
	require.NoError(t, err)
	assert.Empty(t, turn.Message.Events)

	require.NoError(t, c2.Reset(ctx, "conv"))
	keys, err = c2.SeenKeys(ctx, "conv")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestController_StoreFailuresDoNotFailTurn(t *testing.T) {
	c := newTestController(t, &scriptedLLM{replies: []string{eventCard("Feria", "2025-06-13")}}, failingLedger{})
	turn, err := c.Ask(context.Background(), "conv", "eventos")
	require.NoError(t, err)
	assert.Len(t, turn.Message.Events, 1)
}

func TestController_SerializesSameConversation(t *testing.T) {
	replies := make([]string, 8)
	for i := range replies {
		replies[i] = eventCard("Feria", "2025-06-13")
	}
	c := newTestController(t, &scriptedLLM{replies: replies}, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	shown := 0
	for i := 0; i < len(replies); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := c.Ask(context.Background(), "conv", "eventos")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			shown += len(turn.Message.Events)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, shown, "the same event is shown exactly once per conversation")
}

func TestNewConversationID(t *testing.T) {
	a, b := NewConversationID(), NewConversationID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestController_EvictIdle(t *testing.T) {
	c := newTestController(t, &scriptedLLM{}, nil)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Ask(ctx, "old", "hola")
	require.NoError(t, err)
	now = base.Add(50 * time.Minute)
	_, err = c.Ask(ctx, "recent", "hola")
	require.NoError(t, err)
	require.Equal(t, 2, c.Conversations())

	now = base.Add(time.Hour)
	assert.Equal(t, 1, c.EvictIdle(time.Hour))
	assert.Equal(t, 1, c.Conversations())

	now = base.Add(3 * time.Hour)
	assert.Equal(t, 1, c.EvictIdle(time.Hour))
	assert.Zero(t, c.Conversations())
}

func TestController_InFlightTurnIsNotForgotten(t *testing.T) {
	llm := &gateLLM{started: make(chan struct{}, 1), release: make(chan struct{})}
	c := newTestController(t, llm, nil)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	c.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	done := make(chan error, 1)
	go func() {
		_, err := c.Ask(context.Background(), "conv", "eventos")
		done <- err
	}()
	<-llm.started

	mu.Lock()
	now = base.Add(24 * time.Hour)
	mu.Unlock()
	assert.False(t, c.Forget("conv"), "a running turn pins its conversation")
	assert.Zero(t, c.EvictIdle(time.Minute))
	assert.Equal(t, 1, c.Conversations())

	close(llm.release)
	require.NoError(t, <-done)

	// The ledger of the finished turn is still the one in memory.
	keys, err := c.SeenKeys(context.Background(), "conv")
	require.NoError(t, err)
	assert.Equal(t, []string{"feria+2025-06-13"}, keys)

	assert.True(t, c.Forget("conv"))
	assert.Zero(t, c.Conversations())
}

func TestController_ResetWithStoreDropsMemory(t *testing.T) {
	db, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	c := newTestController(t, &scriptedLLM{replies: []string{eventCard("Feria", "2025-06-13")}}, db)
	_, err = c.Ask(ctx, "conv", "eventos")
	require.NoError(t, err)
	require.Equal(t, 1, c.Conversations())

	require.NoError(t, c.Reset(ctx, "conv"))
	assert.Zero(t, c.Conversations())
}

func TestController_RunJanitor(t *testing.T) {
	c := newTestController(t, &scriptedLLM{}, nil)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	c.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	_, err := c.Ask(context.Background(), "conv", "hola")
	require.NoError(t, err)

	mu.Lock()
	now = base.Add(2 * time.Hour)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunJanitor(ctx, time.Hour, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return c.Conversations() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestController_SetDocumentsAffectsLaterTurns(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"Trámite\n" + articulation.DocumentLinkPrefix + "Licencia de obras]",
		"Trámite\n" + articulation.DocumentLinkPrefix + "Licencia de obras]",
	}}
	c := newTestController(t, llm, nil)
	ctx := context.Background()

	first, err := c.Ask(ctx, "conv", "licencia")
	require.NoError(t, err)
	assert.Nil(t, first.Message.DocumentLink)

	c.SetDocuments([]types.KnownDocument{{ProcedureName: "Licencia de obras", FileRef: "files/obras.pdf"}})
	c.SetLocality("Triana")
	second, err := c.Ask(ctx, "conv", "licencia")
	require.NoError(t, err)
	require.NotNil(t, second.Message.DocumentLink)
	assert.Equal(t, "files/obras.pdf", second.Message.DocumentLink.FileRef)
	assert.Contains(t, llm.systems[1], "- Licencia de obras")
	assert.Contains(t, llm.systems[1], "Triana")
}
