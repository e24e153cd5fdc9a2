// Package persist moves store contents to and from a JSON snapshot file.
//
// The file is one JSON object keyed by entry key:
//
//	{
//	    "user:1": {
//	        "value": "alice",
//	        "expiry": 1767225600,
//	        "lastAccessed": 1767222000
//	    }
//	}
//
// Times are Unix seconds; an expiry of 0 means the entry never expires.
// Snapshots are best effort: a failed save or load is reported and never
// stops the store.
package persist

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/store"
)

// ErrPersistence wraps every snapshot read or write failure.
var ErrPersistence = errors.New("persist: snapshot failure")

// Setter receives loaded entries.
type Setter interface {
	Set(key, value string, ttl time.Duration) error
}

// Snapshotter supplies entries to save.
type Snapshotter interface {
	Snapshot() []store.Entry
}

// record is the on-disk form of one entry.
type record struct {
	Value        string `json:"value"`
	Expiry       int64  `json:"expiry"`
	LastAccessed int64  `json:"lastAccessed"`
}

// Load reads path and sets every entry that has not expired, with its
// remaining TTL. A missing file loads nothing. An entry that is not an
// object or has badly typed fields is skipped and logged. It returns the
// number of entries set.
func Load(path string, dst Setter, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no snapshot to load", zap.String("path", path))
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(ErrPersistence, "read %s: %v", path, err)
	}

	var raw map[string]json.RawMessage
	if err := sonic.ConfigDefault.Unmarshal(data, &raw); err != nil {
		return 0, errors.Wrapf(ErrPersistence, "decode %s: %v", path, err)
	}

	now := time.Now()
	loaded, skipped, lapsed := 0, 0, 0
	for key, msg := range raw {
		if t := bytes.TrimSpace(msg); len(t) == 0 || t[0] != '{' {
			log.Warn("skipping non-object snapshot entry", zap.String("key", key))
			skipped++
			continue
		}
		var rec record
		if err := sonic.ConfigDefault.Unmarshal(msg, &rec); err != nil {
			log.Warn("skipping malformed snapshot entry", zap.String("key", key), zap.Error(err))
			skipped++
			continue
		}

		var ttl time.Duration
		if rec.Expiry > 0 {
			ttl = time.Unix(rec.Expiry, 0).Sub(now)
			if ttl <= 0 {
				lapsed++
				continue
			}
		}
		if err := dst.Set(key, rec.Value, ttl); err != nil {
			return loaded, errors.Wrapf(ErrPersistence, "restore %q: %v", key, err)
		}
		loaded++
	}

	log.Info("snapshot loaded",
		zap.String("path", path),
		zap.Int("loaded", loaded),
		zap.Int("expired", lapsed),
		zap.Int("skipped", skipped))
	return loaded, nil
}

// ceilUnix rounds t up to whole seconds so a saved deadline never moves
// earlier than the live one.
func ceilUnix(t time.Time) int64 {
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return secs
}

// Save writes a snapshot of src to path atomically: the JSON goes to a
// temporary file in the same directory which then replaces path. It
// returns the number of entries written.
func Save(path string, src Snapshotter) (int, error) {
	entries := src.Snapshot()
	doc := make(map[string]record, len(entries))
	for _, e := range entries {
		rec := record{Value: e.Value, LastAccessed: e.LastAccessed.Unix()}
		if !e.ExpiresAt.IsZero() {
			rec.Expiry = ceilUnix(e.ExpiresAt)
		}
		doc[e.Key] = rec
	}

	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "    ")
	if err != nil {
		return 0, errors.Wrapf(ErrPersistence, "encode: %v", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return 0, errors.Wrapf(ErrPersistence, "write %s: %v", path, err)
	}
	return len(doc), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
