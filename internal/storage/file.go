package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

// fileStore keeps everything in memory and journals writes to disk.
//
// Files:
//   - <prefix>.sightings.jsonl     (append-only, rewritten by Prune)
//   - <prefix>.forts.jsonl         (append-only, last record per id wins)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only, compacted into the snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	sightingsPath string
	sightingsFile *os.File
	fortsFile     *os.File

	seen   map[string]struct{} // encounter ids
	spawns map[string]model.SpawnPoint
	forts  map[string]model.Fort

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		sightingsPath:     prefix + ".sightings.jsonl",
		seen:              map[string]struct{}{},
		spawns:            map[string]model.SpawnPoint{},
		forts:             map[string]model.Fort{},
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		dedup:             map[string]int64{},
	}

	if err := replayJSONL(s.sightingsPath, func(sg model.Sighting) { s.indexSighting(sg) }); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("sightings journal replay failed", logx.Err(err))
	}
	fortsPath := prefix + ".forts.jsonl"
	if err := replayJSONL(fortsPath, func(f model.Fort) { s.forts[f.ID] = f }); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("forts journal replay failed", logx.Err(err))
	}
	journalPath := prefix + ".dedup.journal.jsonl"
	_ = loadDedupSnapshot(s.dedupSnapshotPath, s.dedup)
	_ = replayJSONL(journalPath, func(r dedupRecord) {
		if r.Key != "" {
			s.dedup[r.Key] = r.Until
		}
	})
	pruneExpiredDedup(s.dedup, time.Now())

	var err error
	if s.sightingsFile, err = openAppend(s.sightingsPath); err != nil {
		return nil, err
	}
	if s.fortsFile, err = openAppend(fortsPath); err != nil {
		_ = s.sightingsFile.Close()
		return nil, err
	}
	if s.dedupJournalFile, err = openAppend(journalPath); err != nil {
		_ = s.sightingsFile.Close()
		_ = s.fortsFile.Close()
		return nil, err
	}
	log.Info("file store opened",
		logx.String("prefix", prefix),
		logx.Int("sightings", len(s.seen)),
		logx.Int("spawnpoints", len(s.spawns)),
		logx.Int("forts", len(s.forts)),
	)
	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
}

func (s *fileStore) indexSighting(sg model.Sighting) {
	s.seen[sg.EncounterID] = struct{}{}
	key := spawnKey(sg)
	s.spawns[key] = model.SpawnPoint{ID: key, Location: sg.Location, Second: sg.SpawnSecond()}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []*os.File{s.sightingsFile, s.fortsFile, s.dedupJournalFile} {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}
	s.sightingsFile, s.fortsFile, s.dedupJournalFile = nil, nil, nil
	return errors.Join(errs...)
}

func (s *fileStore) SaveSightings(_ context.Context, in []model.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sightingsFile == nil {
		return errors.New("sightings journal closed")
	}
	enc := json.NewEncoder(s.sightingsFile)
	for _, sg := range in {
		if _, dup := s.seen[sg.EncounterID]; dup {
			continue
		}
		if err := enc.Encode(sg); err != nil {
			return err
		}
		s.indexSighting(sg)
	}
	return nil
}

func (s *fileStore) SaveForts(_ context.Context, in []model.Fort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fortsFile == nil {
		return errors.New("forts journal closed")
	}
	enc := json.NewEncoder(s.fortsFile)
	for _, f := range in {
		if old, ok := s.forts[f.ID]; ok && old == f {
			continue
		}
		if err := enc.Encode(f); err != nil {
			return err
		}
		s.forts[f.ID] = f
	}
	return nil
}

func (s *fileStore) SpawnPoints(_ context.Context, b geo.Bounds) ([]model.SpawnPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SpawnPoint, 0, len(s.spawns))
	for _, sp := range s.spawns {
		if b.Contains(sp.Location) {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactDedupLocked(time.Now()); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sightingsFile == nil {
		return 0, errors.New("sightings journal closed")
	}

	keep := make([]model.Sighting, 0, len(s.seen))
	var removed int64
	err := replayJSONL(s.sightingsPath, func(sg model.Sighting) {
		if sg.Disappear.Before(before) {
			removed++
			delete(s.seen, sg.EncounterID)
			return
		}
		keep = append(keep, sg)
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		tmp := s.sightingsPath + ".tmp"
		if err := writeJSONL(tmp, keep); err != nil {
			return 0, err
		}
		_ = s.sightingsFile.Close()
		if err := os.Rename(tmp, s.sightingsPath); err != nil {
			return 0, err
		}
		if s.sightingsFile, err = openAppend(s.sightingsPath); err != nil {
			return 0, err
		}
	}
	if err := s.compactDedupLocked(time.Now()); err != nil {
		s.log.Debug("dedup compact failed", logx.Err(err))
	}
	return removed, nil
}

func (s *fileStore) compactDedupLocked(now time.Time) error {
	pruneExpiredDedup(s.dedup, now)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, io.SeekEnd)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJSONL decodes one T per line. Corrupt lines (e.g. a torn final
// write) are skipped.
func replayJSONL[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		fn(v)
	}
	return sc.Err()
}

func writeJSONL[T any](path string, items []T) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}
