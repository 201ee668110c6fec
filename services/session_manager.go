package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/models"
)

// ErrSessionBusy is returned when a session's mailbox is full.
var ErrSessionBusy = errors.New("session has too many queued turns")

const (
	mailboxSize  = 16
	turnTimeout  = 2 * time.Minute
	actorIdleTTL = 10 * time.Minute
)

// SessionStore is the session-row slice of the row store.
type SessionStore interface {
	TouchSession(ctx context.Context, sessionID string) error
	ExpiredSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error)
}

// SessionManager owns one actor goroutine per active session. All turns
// and resets for a session go through its mailbox, so they run strictly
// one at a time in arrival order. Work runs under a server-side context
// rather than the caller's: a client that disconnects mid-stream does not
// abort persistence of the turn.
type SessionManager struct {
	orchestrator *Orchestrator
	indexer      *Indexer
	sessions     SessionStore
	storageDir   string
	ttl          time.Duration

	mu     sync.Mutex
	actors map[string]*sessionActor
	closed bool
	wg     sync.WaitGroup
}

// sessionActor's mailbox is only ever sent to under SessionManager.mu
// and is never closed. Removal closes stop instead; the goroutine then
// drains the mailbox so every accepted job still runs its callback.
type sessionActor struct {
	id      string
	mailbox chan func(ctx context.Context)
	stop    chan struct{}
}

func NewSessionManager(orchestrator *Orchestrator, indexer *Indexer, sessions SessionStore, storageDir string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		orchestrator: orchestrator,
		indexer:      indexer,
		sessions:     sessions,
		storageDir:   storageDir,
		ttl:          ttl,
		actors:       make(map[string]*sessionActor),
	}
}

// Submit queues one chat turn. done is invoked from the actor goroutine
// after the turn fully completes, including persistence.
func (m *SessionManager) Submit(sessionID, text string, ev TurnEvents, done func(answer string, err error)) error {
	return m.enqueue(sessionID, func(ctx context.Context) {
		if err := m.sessions.TouchSession(ctx, sessionID); err != nil {
			logger.Warn("Failed to touch session", "session", sessionID, "error", err)
		}
		answer, err := m.orchestrator.HandleTurn(ctx, sessionID, text, ev)
		if done != nil {
			done(answer, err)
		}
	})
}

// Reset queues a history reset behind any in-flight turns, so a reset
// never interleaves with a turn that is still writing messages.
func (m *SessionManager) Reset(sessionID string, done func(err error)) error {
	return m.enqueue(sessionID, func(ctx context.Context) {
		err := m.orchestrator.Reset(ctx, sessionID)
		if done != nil {
			done(err)
		}
	})
}

func (m *SessionManager) enqueue(sessionID string, job func(ctx context.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("session manager is shut down")
	}
	actor, ok := m.actors[sessionID]
	if !ok {
		actor = &sessionActor{
			id:      sessionID,
			mailbox: make(chan func(ctx context.Context), mailboxSize),
			stop:    make(chan struct{}),
		}
		m.actors[sessionID] = actor
		m.wg.Add(1)
		go m.run(actor)
	}

	// The send happens under mu. Removal also runs under mu, so an actor
	// found in the map cannot be retired out from under this send.
	select {
	case actor.mailbox <- job:
		return nil
	default:
		return ErrSessionBusy
	}
}

func (m *SessionManager) run(actor *sessionActor) {
	defer m.wg.Done()
	idle := time.NewTimer(actorIdleTTL)
	defer idle.Stop()

	for {
		select {
		case job := <-actor.mailbox:
			m.runJob(job)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(actorIdleTTL)
		case <-actor.stop:
			m.drain(actor)
			return
		case <-idle.C:
			m.mu.Lock()
			if len(actor.mailbox) > 0 {
				// Work arrived just before the timer fired.
				m.mu.Unlock()
				idle.Reset(actorIdleTTL)
				continue
			}
			// A removed actor may still see its timer fire; only
			// unregister if this goroutine still owns the slot.
			if m.actors[actor.id] == actor {
				delete(m.actors, actor.id)
			}
			m.mu.Unlock()
			return
		}
	}
}

func (m *SessionManager) runJob(job func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()
	job(ctx)
}

// drain runs jobs accepted before the actor was stopped. Their callbacks
// must fire even when the session itself is being removed.
func (m *SessionManager) drain(actor *sessionActor) {
	for {
		select {
		case job := <-actor.mailbox:
			m.runJob(job)
		default:
			return
		}
	}
}

// SweepExpired deletes every session idle past the TTL: index entries
// first, then rows, then the session's file directory. Invoked on a
// schedule by the API binary.
func (m *SessionManager) SweepExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-m.ttl)
	expired, err := m.sessions.ExpiredSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired sessions: %w", err)
	}

	for _, sess := range expired {
		if err := m.indexer.DeleteSession(ctx, sess.ID); err != nil {
			logger.Error("Failed to delete expired session", "session", sess.ID, "error", err)
			continue
		}
		dir := filepath.Join(m.storageDir, sess.ID)
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to remove session files", "session", sess.ID, "error", err)
		}
		m.dropActor(sess.ID)
		logger.Info("Expired session removed", "session", sess.ID, "lastActive", sess.LastActiveAt)
	}

	if len(expired) > 0 {
		logger.Info("Session sweep complete", "removed", len(expired))
	}
	return nil
}

func (m *SessionManager) dropActor(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if actor, ok := m.actors[sessionID]; ok {
		delete(m.actors, sessionID)
		close(actor.stop)
	}
}

// Shutdown stops accepting work and waits for queued turns to drain.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, actor := range m.actors {
		close(actor.stop)
		delete(m.actors, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
