// Package rigdir persists the mapping of rig ids to display labels.
package rigdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

// Directory maps rig id to display label.
type Directory map[string]string

// Entry is one rig of a directory.
type Entry struct {
	ID    string
	Label string
}

// Merge returns the union of cached and live. Live labels win over cached
// ones. Extra ids not known to either map to themselves.
func Merge(cached, live Directory, extra []string) Directory {
	out := make(Directory, len(cached)+len(live)+len(extra))

	for id, label := range cached {
		out[id] = label
	}

	for id, label := range live {
		out[id] = label
	}

	for _, id := range extra {
		if id == "" {
			continue
		}

		if _, ok := out[id]; !ok {
			out[id] = id
		}
	}

	return out
}

// Entries returns the rigs sorted by label then id. Labels shared by several
// rigs, or equal to one of reserved, are suffixed with the rig id so every
// entry has a unique label.
func (d Directory) Entries(reserved ...string) []Entry {
	counts := make(map[string]int, len(d)+len(reserved))
	for _, label := range d {
		counts[label]++
	}

	for _, label := range reserved {
		counts[label]++
	}

	entries := make([]Entry, 0, len(d))

	for id, label := range d {
		if label == "" {
			label = id
		} else if counts[label] > 1 {
			label = fmt.Sprintf("%s (%s)", label, id)
		}

		entries = append(entries, Entry{ID: id, Label: label})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Label != entries[j].Label {
			return entries[i].Label < entries[j].Label
		}

		return entries[i].ID < entries[j].ID
	})

	return entries
}

// Store persists a Directory as a JSON object.
type Store struct {
	log  logrus.FieldLogger
	path string
}

// NewStore creates a store backed by the file at path.
func NewStore(log logrus.FieldLogger, path string) *Store {
	return &Store{
		log:  log.WithField("component", "rigdir"),
		path: path,
	}
}

// Load reads the directory. A missing file yields an empty directory.
func (s *Store) Load() (Directory, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Directory{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading rig directory %s: %w", s.path, err)
	}

	dir := Directory{}
	if len(data) == 0 {
		return dir, nil
	}

	if err := sonic.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("decoding rig directory %s: %w", s.path, err)
	}

	return dir, nil
}

// Save writes the directory atomically with keys in sorted order.
func (s *Store) Save(dir Directory) error {
	data, err := sonic.ConfigStd.MarshalIndent(dir, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rig directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating rig directory dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp rig directory: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing rig directory: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing rig directory: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replacing rig directory: %w", err)
	}

	s.log.WithField("rigs", len(dir)).Debug("Saved rig directory")

	return nil
}

// Refresh loads the cached directory, merges live and extra into it and
// saves the result.
func (s *Store) Refresh(live Directory, extra []string) (Directory, error) {
	cached, err := s.Load()
	if err != nil {
		return nil, err
	}

	merged := Merge(cached, live, extra)

	if err := s.Save(merged); err != nil {
		return nil, err
	}

	return merged, nil
}
