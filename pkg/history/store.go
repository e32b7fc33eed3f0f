package history

import (
	"encoding/json"
	"sync"

	relayerrors "github.com/navaai/relay/pkg/errors"
	"github.com/navaai/relay/pkg/logging"
)

// Store manages the persisted session list. Mutations read the full list,
// apply the change, and write the full list back; there is no merge. A corrupt
// persisted blob is absorbed as an empty list, never propagated to the caller.
type Store struct {
	mu         sync.Mutex
	backend    Backend
	cap        int
	logger     *logging.Logger
	observers  []Observer
	observerMu sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithCap overrides the retained session cap.
func WithCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cap = n
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store over the given backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cap:     Cap,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddObserver registers an observer that will receive store events.
func (s *Store) AddObserver(observer Observer) {
	s.observerMu.Lock()
	s.observers = append(s.observers, observer)
	s.observerMu.Unlock()
}

// notify fans out events to observers without blocking the writer.
func (s *Store) notify(event Event) {
	s.observerMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.observerMu.RUnlock()
	for _, o := range observers {
		go o.HandleHistoryEvent(event)
	}
}

// load reads and decodes the full session list. A read error or corrupt blob
// yields an empty list: the store fails open so a bad byte on disk can never
// take the history browser down with it.
func (s *Store) load() []Session {
	data, err := s.backend.Load()
	if err != nil {
		s.logger.Warn(logging.CategoryHistory, "load_failed", err.Error(), nil)
		return []Session{}
	}
	if len(data) == 0 {
		return []Session{}
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn(logging.CategoryHistory, "corrupt_blob", err.Error(), nil)
		return []Session{}
	}
	return sessions
}

func (s *Store) save(sessions []Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return relayerrors.Wrap(err, relayerrors.ErrCodeStorageWrite, "encode history")
	}
	if err := s.backend.Save(data); err != nil {
		return relayerrors.Wrap(err, relayerrors.ErrCodeStorageWrite, "persist history")
	}
	return nil
}

// Upsert replaces the session with a matching ID or prepends a new one, then
// truncates the list to the cap, dropping the oldest entries.
func (s *Store) Upsert(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	replaced := false
	for i := range sessions {
		if sessions[i].ID == session.ID {
			sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append([]Session{session}, sessions...)
	}
	if len(sessions) > s.cap {
		sessions = sessions[:s.cap]
	}

	if err := s.save(sessions); err != nil {
		return err
	}
	s.notify(newEvent(EventSessionUpserted, session.ID))
	return nil
}

// List returns sessions matching the filter, most recent first. Drafts never
// appear in any listing; they are only visible to the originating live session.
func (s *Store) List(filter Filter) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	out := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.IsDraft {
			continue
		}
		if filter == FilterFavorites && !sess.IsFavorite {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Get returns the session with the given ID, drafts included, or nil.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.load() {
		if sess.ID == id {
			found := sess
			return &found, nil
		}
	}
	return nil, nil
}

// ToggleFavorite flips the favorite flag. Applying it twice restores the
// original state.
func (s *Store) ToggleFavorite(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	for i := range sessions {
		if sessions[i].ID == id {
			sessions[i].IsFavorite = !sessions[i].IsFavorite
			if err := s.save(sessions); err != nil {
				return err
			}
			s.notify(newEvent(EventFavoriteToggled, id))
			return nil
		}
	}
	return relayerrors.New(relayerrors.ErrCodeInvalidInput, "session not found").WithContext("id", id)
}

// Delete removes one session. Deleting an unknown ID is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	out := sessions[:0]
	removed := false
	for _, sess := range sessions {
		if sess.ID == id {
			removed = true
			continue
		}
		out = append(out, sess)
	}
	if !removed {
		return nil
	}
	if err := s.save(out); err != nil {
		return err
	}
	s.notify(newEvent(EventSessionDeleted, id))
	return nil
}

// Clear removes all sessions.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save([]Session{}); err != nil {
		return err
	}
	s.notify(newEvent(EventHistoryCleared, ""))
	return nil
}

// SetDraftMode records the current draft/published toggle.
func (s *Store) SetDraftMode(draft bool) error {
	value := ""
	if draft {
		value = "true"
	}
	return s.backend.SaveFlag(FlagDraft, value)
}

// DraftMode reads the current draft/published toggle.
func (s *Store) DraftMode() bool {
	value, err := s.backend.LoadFlag(FlagDraft)
	if err != nil {
		return false
	}
	return value == "true"
}

// SetFilterFlag writes the one-shot filter hint for a sibling view.
func (s *Store) SetFilterFlag(filter Filter) error {
	return s.backend.SaveFlag(FlagFilter, string(filter))
}

// TakeFilterFlag consumes the one-shot filter hint, clearing it. Returns
// FilterAll when no hint was set.
func (s *Store) TakeFilterFlag() Filter {
	value, err := s.backend.LoadFlag(FlagFilter)
	if err != nil || value == "" {
		return FilterAll
	}
	_ = s.backend.SaveFlag(FlagFilter, "")
	if Filter(value) == FilterFavorites {
		return FilterFavorites
	}
	return FilterAll
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
