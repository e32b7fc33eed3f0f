package history

import (
	"os"
	"path/filepath"
	"testing"
)

// All three backends satisfy the same contract; the store is backend-agnostic.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	fileBackend, err := NewFileBackend(filepath.Join(t.TempDir(), "history.json"))
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	sqliteBackend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   fileBackend,
		"sqlite": sqliteBackend,
	}
}

func TestBackend_LoadEmptyIsNil(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			data, err := backend.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if data != nil {
				t.Errorf("fresh backend should load nil, got %q", data)
			}
		})
	}
}

func TestBackend_SaveLoadRoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			blob := []byte(`[{"id":"a"}]`)
			if err := backend.Save(blob); err != nil {
				t.Fatalf("Save: %v", err)
			}

			data, err := backend.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if string(data) != string(blob) {
				t.Errorf("Load = %q, want %q", data, blob)
			}

			// A second save replaces, never appends.
			if err := backend.Save([]byte(`[]`)); err != nil {
				t.Fatalf("Save: %v", err)
			}
			data, err = backend.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if string(data) != `[]` {
				t.Errorf("Load after replace = %q, want []", data)
			}
		})
	}
}

func TestBackend_Flags(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			value, err := backend.LoadFlag(FlagDraft)
			if err != nil {
				t.Fatalf("LoadFlag: %v", err)
			}
			if value != "" {
				t.Errorf("unset flag = %q, want empty", value)
			}

			if err := backend.SaveFlag(FlagDraft, "true"); err != nil {
				t.Fatalf("SaveFlag: %v", err)
			}
			value, err = backend.LoadFlag(FlagDraft)
			if err != nil {
				t.Fatalf("LoadFlag: %v", err)
			}
			if value != "true" {
				t.Errorf("flag = %q, want true", value)
			}

			// Empty value clears.
			if err := backend.SaveFlag(FlagDraft, ""); err != nil {
				t.Fatalf("SaveFlag clear: %v", err)
			}
			value, err = backend.LoadFlag(FlagDraft)
			if err != nil {
				t.Fatalf("LoadFlag: %v", err)
			}
			if value != "" {
				t.Errorf("cleared flag = %q, want empty", value)
			}
		})
	}
}

func TestFileBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if err := backend.Save([]byte(`[{"id":"persisted"}]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := backend.SaveFlag(FlagFilter, "favorites"); err != nil {
		t.Fatalf("SaveFlag: %v", err)
	}
	backend.Close()

	reopened, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	data, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `[{"id":"persisted"}]` {
		t.Errorf("Load after reopen = %q", data)
	}
	value, err := reopened.LoadFlag(FlagFilter)
	if err != nil {
		t.Fatalf("LoadFlag: %v", err)
	}
	if value != "favorites" {
		t.Errorf("flag after reopen = %q", value)
	}
}

func TestFileBackend_CorruptFlagsTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	defer backend.Close()

	if err := os.WriteFile(path+".flags", []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	value, err := backend.LoadFlag(FlagDraft)
	if err != nil {
		t.Fatalf("LoadFlag should tolerate corrupt flags file: %v", err)
	}
	if value != "" {
		t.Errorf("flag from corrupt file = %q, want empty", value)
	}
}

func TestSQLiteBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	backend, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if err := backend.Save([]byte(`[{"id":"persisted"}]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	backend.Close()

	reopened, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	data, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `[{"id":"persisted"}]` {
		t.Errorf("Load after reopen = %q", data)
	}
}
