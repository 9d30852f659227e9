// Package fleetstore persists the three JSON documents spec.md §6
// names (settings.json, history.json, stacks.json) under a data
// directory. Grounded in the teacher's internal/storage/local.go
// create-then-encode-then-cleanup-on-error pattern, adapted from
// tar.gz+json backup pairs to single JSON documents guarded by an
// in-process mutex (the history store's concurrent-append guarantee,
// spec.md §5).
package fleetstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fleetdock/fleetdock/internal/models"
)

const maxHistoryEntries = 200

// Store is the JSON-backed persistence layer for stacks, history and
// settings.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New ensures dir exists and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func writeJSON(path string, v interface{}) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp) // #nosec G304 - controlled data-directory path
	if err != nil {
		return fmt.Errorf("create %q: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %q: %w", tmp, err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	f, err := os.Open(path) // #nosec G304 - controlled data-directory path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %q: %w", path, err)
	}
	return nil
}

// Stacks returns every stack known to the store, keyed by name.
func (s *Store) Stacks() (map[string]models.StackDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]models.StackDefinition{}
	if err := readJSON(s.path("stacks.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutStack upserts a stack definition.
func (s *Store) PutStack(def models.StackDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stacks := map[string]models.StackDefinition{}
	if err := readJSON(s.path("stacks.json"), &stacks); err != nil {
		return err
	}
	stacks[def.StackName] = def
	return writeJSON(s.path("stacks.json"), stacks)
}

// DeleteStack removes a stack definition by name.
func (s *Store) DeleteStack(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stacks := map[string]models.StackDefinition{}
	if err := readJSON(s.path("stacks.json"), &stacks); err != nil {
		return err
	}
	delete(stacks, name)
	return writeJSON(s.path("stacks.json"), stacks)
}

// Schedules returns every recurring trigger, keyed by target.
func (s *Store) Schedules() (map[string]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]models.Schedule{}
	if err := readJSON(s.path("schedules.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutSchedule upserts a Schedule, keyed by its Target.
func (s *Store) PutSchedule(sched models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedules := map[string]models.Schedule{}
	if err := readJSON(s.path("schedules.json"), &schedules); err != nil {
		return err
	}
	schedules[sched.Target] = sched
	return writeJSON(s.path("schedules.json"), schedules)
}

// DeleteSchedule removes target's trigger, if any.
func (s *Store) DeleteSchedule(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedules := map[string]models.Schedule{}
	if err := readJSON(s.path("schedules.json"), &schedules); err != nil {
		return err
	}
	delete(schedules, target)
	return writeJSON(s.path("schedules.json"), schedules)
}

// History returns every history entry, newest first.
func (s *Store) History() ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.HistoryEntry
	if err := readJSON(s.path("history.json"), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendHistory records entry at the front of history.json, evicting
// the oldest entry once the bound of 200 is exceeded (spec.md §5, §8).
func (s *Store) AppendHistory(entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.HistoryEntry
	if err := readJSON(s.path("history.json"), &entries); err != nil {
		return err
	}
	entries = append([]models.HistoryEntry{entry}, entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > maxHistoryEntries {
		entries = entries[:maxHistoryEntries]
	}
	return writeJSON(s.path("history.json"), entries)
}

// Settings is the persisted settings.json document. It is a free-form
// map so callers can evolve its shape without a migration step.
type Settings map[string]interface{}

// LoadSettings reads settings.json, returning an empty map if absent.
func (s *Store) LoadSettings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Settings{}
	if err := readJSON(s.path("settings.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSettings overwrites settings.json.
func (s *Store) SaveSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("settings.json"), settings)
}
