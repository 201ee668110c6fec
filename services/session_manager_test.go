package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-studios/cf-rag-agent/models"
)

type fakeSessionStore struct {
	mu      sync.Mutex
	touched []string
	expired []models.Session
}

func (f *fakeSessionStore) TouchSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, sessionID)
	return nil
}

func (f *fakeSessionStore) ExpiredSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	return f.expired, nil
}

// slowTurnModel delays each answer so interleaving would be observable if
// turns ever ran concurrently.
type slowTurnModel struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (s *slowTurnModel) GenerateJSON(ctx context.Context, system, prompt string) ([]byte, error) {
	return []byte(`{"tool":"none"}`), nil
}

func (s *slowTurnModel) Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return "ok", nil
}

func newTestManager(model ModelClient, sessions SessionStore) *SessionManager {
	st := &fakeTurnStore{}
	o := NewOrchestrator(st, &fakeSearcher{}, &fakeRemover{}, model, 40, 5)
	indexer := NewIndexer(&fakeIndexStore{}, &fakeVectorIndex{})
	return NewSessionManager(o, indexer, sessions, "", time.Hour)
}

func TestSubmitSerializesTurnsPerSession(t *testing.T) {
	model := &slowTurnModel{}
	m := newTestManager(model, &fakeSessionStore{})
	defer m.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		err := m.Submit("sess-1", "message", TurnEvents{}, func(answer string, err error) {
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, 1, model.peak, "turns in one session must never overlap")
}

func TestSubmitRejectsOverfullMailbox(t *testing.T) {
	model := &slowTurnModel{}
	m := newTestManager(model, &fakeSessionStore{})
	defer m.Shutdown()

	var rejected bool
	for i := 0; i < mailboxSize+8; i++ {
		if err := m.Submit("sess-1", "m", TurnEvents{}, nil); err != nil {
			assert.ErrorIs(t, err, ErrSessionBusy)
			rejected = true
			break
		}
	}
	assert.True(t, rejected, "a flooded mailbox must push back")
}

func TestResetRunsAfterQueuedTurns(t *testing.T) {
	model := &slowTurnModel{}
	m := newTestManager(model, &fakeSessionStore{})
	defer m.Shutdown()

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(2)
	require.NoError(t, m.Submit("sess-1", "turn", TurnEvents{}, func(string, error) {
		mu.Lock()
		order = append(order, "turn")
		mu.Unlock()
		wg.Done()
	}))
	require.NoError(t, m.Reset("sess-1", func(error) {
		mu.Lock()
		order = append(order, "reset")
		mu.Unlock()
		wg.Done()
	}))
	wg.Wait()

	assert.Equal(t, []string{"turn", "reset"}, order)
}

// Concurrent submitters racing session removal must never crash the
// manager: removal signals the actor instead of closing its mailbox.
func TestSubmitSurvivesConcurrentRemoval(t *testing.T) {
	model := &slowTurnModel{}
	m := newTestManager(model, &fakeSessionStore{})
	defer m.Shutdown()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = m.Submit("sess-race", "m", TurnEvents{}, nil)
			}
		}()
	}

	for i := 0; i < 500; i++ {
		m.dropActor("sess-race")
	}
	close(stop)
	wg.Wait()
}

func TestDropActorRunsAcceptedCallbacks(t *testing.T) {
	model := &slowTurnModel{}
	m := newTestManager(model, &fakeSessionStore{})
	defer m.Shutdown()

	finished := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Submit("sess-1", "m", TurnEvents{}, func(string, error) {
			finished <- struct{}{}
		}))
	}
	m.dropActor("sess-1")

	for i := 0; i < 3; i++ {
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("queued turn never completed after its session was removed")
		}
	}
}

func TestSweepExpiredDeletesSessionFootprint(t *testing.T) {
	sessions := &fakeSessionStore{expired: []models.Session{{ID: "sess-old"}}}
	st := &fakeIndexStore{}
	vx := &fakeVectorIndex{}
	o := NewOrchestrator(&fakeTurnStore{}, &fakeSearcher{}, &fakeRemover{}, &slowTurnModel{}, 40, 5)
	m := NewSessionManager(o, NewIndexer(st, vx), sessions, t.TempDir(), time.Hour)
	defer m.Shutdown()

	require.NoError(t, m.SweepExpired(context.Background()))

	assert.Equal(t, []string{"DeleteBySession"}, vx.calls)
	assert.Contains(t, st.calls, "DeleteSessionRow")
}
