package persist

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Periodic triggers Saver.Save on a cron schedule. Both standard five-field
// expressions and descriptors such as "@every 30s" are accepted.
type Periodic struct {
	c     *cron.Cron
	saver *Saver
	log   *zap.Logger
}

// NewPeriodic parses schedule and prepares the job. Nothing runs before
// Start.
func NewPeriodic(schedule string, saver *Saver, log *zap.Logger) (*Periodic, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("snapshot-cron")
	cl := cronLogger{log: log}

	p := &Periodic{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		saver: saver,
		log:   log,
	}
	if _, err := p.c.AddFunc(schedule, p.run); err != nil {
		return nil, errors.Wrapf(err, "persist: schedule %q", schedule)
	}
	return p, nil
}

func (p *Periodic) run() {
	// Failures are logged by the saver; the next tick retries.
	_ = p.saver.Save(context.Background())
}

// Start begins firing the schedule.
func (p *Periodic) Start() {
	p.c.Start()
	p.log.Info("periodic snapshots started", zap.String("path", p.saver.Path()))
}

// Stop halts the schedule and waits for a running save, or for ctx.
func (p *Periodic) Stop(ctx context.Context) error {
	done := p.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "persist: waiting for running save")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
