package snapshot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/poolspy/internal/codec"
	"github.com/ethpandaops/poolspy/internal/series"
)

// Column names of the snapshot file. Counter columns follow the timestamp
// index in lexicographic order.
var header = []string{
	series.ColumnTime,
	series.ColumnProfitability,
	series.ColumnSpeedAccepted,
}

// Key identifies one snapshot: an entity of an organization for a calendar
// month.
type Key struct {
	Organization string
	Entity       string
	Month        time.Time
}

// NewKey returns the key of the UTC month containing t.
func NewKey(organization, entity string, t time.Time) Key {
	t = t.UTC()

	return Key{
		Organization: organization,
		Entity:       entity,
		Month:        time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Organization, k.Entity, k.Month.Format("2006-01"))
}

// Store reads and writes snapshots as delimited files, one per Key.
type Store struct {
	log logrus.FieldLogger
	cfg Config
}

// NewStore creates a snapshot store rooted at cfg.Dir.
func NewStore(log logrus.FieldLogger, cfg Config) *Store {
	if cfg.Compression == "" {
		cfg.Compression = codec.None
	}

	return &Store{
		log: log.WithField("component", "snapshot"),
		cfg: cfg,
	}
}

// Path returns the file path of key under the configured compression.
func (s *Store) Path(key Key) string {
	return s.pathFor(key, s.cfg.Compression)
}

func (s *Store) pathFor(key Key, algorithm string) string {
	name := fmt.Sprintf(
		"%s_%s.csv%s",
		sanitize(key.Entity),
		key.Month.UTC().Format("2006-01"),
		codec.Extension(algorithm),
	)

	return filepath.Join(s.cfg.Dir, sanitize(key.Organization), name)
}

// Load reads the snapshot for key. It returns nil without error when no
// snapshot exists. A file written under a different compression setting is
// still found.
func (s *Store) Load(key Key) (*series.Series, error) {
	path, algorithm, ok := s.locate(key)
	if !ok {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer f.Close()

	r, err := codec.NewReader(algorithm, f)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	defer r.Close()

	samples, err := readSamples(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	loaded, err := series.New(samples)
	if err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}

	return &loaded, nil
}

// Save writes s as the snapshot for key, replacing any previous file
// atomically.
func (s *Store) Save(key Key, data series.Series) error {
	path := s.Path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}

	tmpName := tmp.Name()

	if err := s.write(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replacing snapshot %s: %w", path, err)
	}

	s.removeStale(key)

	return nil
}

// Update merges fresh into the stored snapshot for key and persists the
// result, holding the key's file lock for the whole read-merge-write cycle.
func (s *Store) Update(
	ctx context.Context,
	key Key,
	fresh series.Series,
) (series.Series, error) {
	path := s.Path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return series.Series{}, fmt.Errorf("creating snapshot dir: %w", err)
	}

	lock, err := acquireLock(ctx, s.lockPath(key))
	if err != nil {
		return series.Series{}, err
	}

	defer func() {
		if err := lock.release(); err != nil {
			s.log.WithError(err).WithField("key", key.String()).
				Warn("Failed to release snapshot lock")
		}
	}()

	existing, err := s.Load(key)
	if err != nil {
		return series.Series{}, err
	}

	merged, err := Merge(existing, fresh)
	if err != nil {
		var corrupt *CorruptionError
		if errors.As(err, &corrupt) && corrupt.Path == "" {
			corrupt.Path = path
		}

		return series.Series{}, err
	}

	if err := s.Save(key, merged); err != nil {
		return series.Series{}, err
	}

	s.log.WithFields(logrus.Fields{
		"key":     key.String(),
		"samples": merged.Len(),
		"fresh":   fresh.Len(),
	}).Debug("Updated snapshot")

	return merged, nil
}

// LatestTimestamp returns the newest sample timestamp stored for key, and
// false when there is no snapshot or it is empty.
func (s *Store) LatestTimestamp(key Key) (int64, bool, error) {
	existing, err := s.Load(key)
	if err != nil {
		return 0, false, err
	}

	if existing == nil || existing.Empty() {
		return 0, false, nil
	}

	return existing.Last().Timestamp, true, nil
}

func (s *Store) lockPath(key Key) string {
	base := strings.TrimSuffix(s.Path(key), codec.Extension(s.cfg.Compression))

	return base + ".lock"
}

// locate finds the snapshot file for key, preferring the configured codec.
func (s *Store) locate(key Key) (string, string, bool) {
	candidates := make([]string, 0, len(codec.All)+1)
	candidates = append(candidates, s.cfg.Compression)

	for _, algorithm := range codec.All {
		if algorithm != s.cfg.Compression {
			candidates = append(candidates, algorithm)
		}
	}

	for _, algorithm := range candidates {
		path := s.pathFor(key, algorithm)
		if _, err := os.Stat(path); err == nil {
			return path, algorithm, true
		}
	}

	return "", "", false
}

// removeStale deletes copies of key written under other codecs.
func (s *Store) removeStale(key Key) {
	for _, algorithm := range codec.All {
		if algorithm == s.cfg.Compression {
			continue
		}

		path := s.pathFor(key, algorithm)

		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("path", path).
				Warn("Failed to remove stale snapshot")
		}
	}
}

func (s *Store) write(w io.Writer, data series.Series) error {
	enc, err := codec.NewWriter(s.cfg.Compression, w)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(enc)

	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))

	for _, sample := range data.Samples() {
		record[0] = strconv.FormatInt(sample.Timestamp, 10)
		record[1] = strconv.FormatFloat(sample.Profitability, 'g', -1, 64)
		record[2] = strconv.FormatFloat(sample.SpeedAccepted, 'g', -1, 64)

		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return err
	}

	return enc.Close()
}

func readSamples(r io.Reader) ([]series.Sample, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(head))
	for i, name := range head {
		idx[name] = i
	}

	for _, name := range header {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	samples := make([]series.Sample, 0, 1024)

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := strconv.ParseInt(record[idx[series.ColumnTime]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing %s: %w", line, series.ColumnTime, err)
		}

		profit, err := strconv.ParseFloat(record[idx[series.ColumnProfitability]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing %s: %w", line, series.ColumnProfitability, err)
		}

		speed, err := strconv.ParseFloat(record[idx[series.ColumnSpeedAccepted]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing %s: %w", line, series.ColumnSpeedAccepted, err)
		}

		samples = append(samples, series.Sample{
			Timestamp:     ts,
			SpeedAccepted: speed,
			Profitability: profit,
		})
	}

	return samples, nil
}

// sanitize makes name safe as a single path element. Names that need
// rewriting get a hash of the original appended, so distinct names never
// share a file.
func sanitize(name string) string {
	var b strings.Builder

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if out == "" || out == "." || out == ".." {
		out = "_"
	}

	if out != name {
		out = fmt.Sprintf("%s-%08x", out, uint32(xxhash.Sum64String(name)))
	}

	return out
}
