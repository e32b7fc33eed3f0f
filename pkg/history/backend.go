package history

import "sync"

// Flag keys shared between views.
const (
	// FlagDraft records the current draft/published toggle.
	FlagDraft = "draft"
	// FlagFilter is a one-shot filter hint written by one view and consumed
	// (cleared) by another on next read.
	FlagFilter = "filter"
)

// Backend is the injected persistence layer: a single keyed record holding the
// serialized session list, plus auxiliary single-value flags. Implementations
// must be safe for concurrent use within one process; cross-process writers are
// unsynchronized and the last full write wins.
type Backend interface {
	// Load returns the persisted blob, or nil when nothing was written yet.
	Load() ([]byte, error)

	// Save replaces the persisted blob.
	Save(data []byte) error

	// LoadFlag returns the value for a flag key, empty when unset.
	LoadFlag(key string) (string, error)

	// SaveFlag sets a flag value. Empty value clears the flag.
	SaveFlag(key, value string) error

	// Close releases backend resources.
	Close() error
}

// MemoryBackend is an in-memory Backend for tests.
type MemoryBackend struct {
	mu    sync.Mutex
	blob  []byte
	flags map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{flags: make(map[string]string)}
}

func (m *MemoryBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, nil
	}
	out := make([]byte, len(m.blob))
	copy(out, m.blob)
	return out, nil
}

func (m *MemoryBackend) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = make([]byte, len(data))
	copy(m.blob, data)
	return nil
}

func (m *MemoryBackend) LoadFlag(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[key], nil
}

func (m *MemoryBackend) SaveFlag(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == "" {
		delete(m.flags, key)
		return nil
	}
	m.flags[key] = value
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Corrupt replaces the stored blob with arbitrary bytes. Test helper.
func (m *MemoryBackend) Corrupt(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = []byte(data)
}
