package conversation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Persister is the durable home of the saved history. The whole array is
// written on every save.
type Persister interface {
	LoadHistory(ctx context.Context) ([]Session, error)
	SaveHistory(ctx context.Context, history []Session) error
}

// PersistenceError wraps a failed history read or write. It is logged, never returned to callers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("history %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Store holds the active conversation and the saved history.
// It is not safe for concurrent use; the session orchestrator owns it on its loop.
type Store struct {
	persister Persister
	now       func() time.Time
	newID     func() string

	activeID  string
	messages  []Message
	dirty     bool
	history   []Session
	lastSaved time.Time
}

// NewStore loads any saved history and starts a fresh active session.
func NewStore(ctx context.Context, p Persister) *Store {
	s := &Store{
		persister: p,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	s.activeID = s.newID()
	if p == nil {
		return s
	}
	loaded, err := p.LoadHistory(ctx)
	if err != nil {
		log.Printf("history: %v", &PersistenceError{Op: "load", Err: err})
		return s
	}
	seen := make(map[string]bool, len(loaded))
	for _, sess := range loaded {
		if sess.ID == "" || seen[sess.ID] {
			continue
		}
		seen[sess.ID] = true
		s.history = append(s.history, sess)
	}
	log.Printf("history: loaded %d sessions", len(s.history))
	return s
}

// NewID returns a fresh opaque identifier.
func (s *Store) NewID() string { return s.newID() }

// ActiveID is the id of the session currently shown.
func (s *Store) ActiveID() string { return s.activeID }

// Messages returns a copy of the active message sequence.
func (s *Store) Messages() []Message { return cloneMessages(s.messages) }

// History returns a copy of the saved sessions, most recent first.
func (s *Store) History() []Session {
	out := make([]Session, len(s.history))
	for i, sess := range s.history {
		out[i] = cloneSession(sess)
	}
	return out
}

// LastSaved is the time of the last successful durable write.
func (s *Store) LastSaved() time.Time { return s.lastSaved }

// Dirty reports whether the active session has changes not yet saved into history.
func (s *Store) Dirty() bool { return s.dirty }

// Has reports whether id is a saved session.
func (s *Store) Has(id string) bool { return s.indexOf(id) >= 0 }

// Append adds msg to the active session.
func (s *Store) Append(msg Message) {
	s.messages = append(s.messages, msg)
	s.dirty = true
}

// Message looks up a message of the active session.
func (s *Store) Message(id string) (Message, bool) {
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Update mutates a message of the active session in place.
func (s *Store) Update(id string, fn func(*Message)) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
			s.dirty = true
			return true
		}
	}
	return false
}

// SaveActive writes the active session into history. Empty sessions are never saved.
// An existing entry is replaced in place and keeps its CreatedAt.
func (s *Store) SaveActive(ctx context.Context) {
	if len(s.messages) == 0 {
		return
	}
	now := s.now()
	entry := Session{
		ID:          s.activeID,
		Title:       Title(s.messages),
		Messages:    cloneMessages(s.messages),
		CreatedAt:   now,
		LastUpdated: now,
	}
	if i := s.indexOf(s.activeID); i >= 0 {
		entry.CreatedAt = s.history[i].CreatedAt
		s.history[i] = entry
	} else {
		s.history = append([]Session{entry}, s.history...)
	}
	s.dirty = false
	s.persist(ctx)
}

// NewChat saves the active session and starts an empty one.
func (s *Store) NewChat(ctx context.Context) {
	s.SaveActive(ctx)
	s.reset()
}

// Select makes the saved session id active, saving the current one first.
// It reports false and changes nothing when id is unknown.
func (s *Store) Select(ctx context.Context, id string) bool {
	if !s.Has(id) {
		return false
	}
	if id == s.activeID {
		return true
	}
	if len(s.messages) > 0 {
		s.SaveActive(ctx)
	}
	chosen := s.history[s.indexOf(id)]
	s.activeID = id
	s.messages = cloneMessages(chosen.Messages)
	for i := range s.messages {
		s.messages[i].Streaming = false
	}
	s.dirty = false
	return true
}

// Delete removes id from history. When id is the active session it is replaced by
// a fresh empty one; the return value reports that case.
func (s *Store) Delete(ctx context.Context, id string) bool {
	if i := s.indexOf(id); i >= 0 {
		s.history = append(s.history[:i:i], s.history[i+1:]...)
		s.persist(ctx)
	}
	if id != s.activeID {
		return false
	}
	s.reset()
	return true
}

// Clear empties history and starts a fresh active session.
func (s *Store) Clear(ctx context.Context) {
	s.history = nil
	s.persist(ctx)
	s.reset()
}

func (s *Store) reset() {
	s.messages = nil
	s.dirty = false
	s.activeID = s.newID()
}

func (s *Store) indexOf(id string) int {
	for i, sess := range s.history {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}
	snapshot := s.History()
	if err := s.persister.SaveHistory(ctx, snapshot); err != nil {
		log.Printf("history: %v", &PersistenceError{Op: "save", Err: err})
		return
	}
	s.lastSaved = s.now()
	log.Printf("history: saved %d sessions", len(snapshot))
}
