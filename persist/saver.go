package persist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/internal/singleflight"
)

// Saver writes snapshots of one source to one path. Saves requested while
// one is running join it instead of writing the file again.
type Saver struct {
	path string
	src  Snapshotter
	log  *zap.Logger
	sf   singleflight.Group
}

// NewSaver returns a Saver for src at path. A nil logger is a no-op.
func NewSaver(path string, src Snapshotter, log *zap.Logger) *Saver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Saver{path: path, src: src, log: log.Named("persist")}
}

// Path returns the snapshot file path.
func (s *Saver) Path() string { return s.path }

// Save writes a snapshot, or waits for the one in flight.
func (s *Saver) Save(ctx context.Context) error {
	shared, err := s.sf.Do(ctx, s.path, func(context.Context) error {
		start := time.Now()
		n, err := Save(s.path, s.src)
		if err != nil {
			s.log.Error("snapshot save failed", zap.String("path", s.path), zap.Error(err))
			return err
		}
		s.log.Info("snapshot saved",
			zap.String("path", s.path),
			zap.Int("entries", n),
			zap.Duration("took", time.Since(start)))
		return nil
	})
	if shared {
		s.log.Debug("snapshot save coalesced", zap.String("path", s.path))
	}
	return err
}
