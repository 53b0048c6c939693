package slash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/internal/logger"
	"github.com/dendrascience/slashfs/metrics"
	"golang.org/x/sys/unix"
)

// DefaultUnmountRetry is the pause between refused unmount attempts.
const DefaultUnmountRetry = 100 * time.Millisecond

// Options configures a Mount.
type Options struct {
	MaxOpenFiles int
	UnmountRetry time.Duration
	Metrics      *metrics.Recorder
}

// Mount is one mounted engine seen through the protocol.
type Mount struct {
	eng     engine.Engine
	files   *FileTable
	metrics *metrics.Recorder
	retry   time.Duration
	sleep   func(time.Duration)
}

// New returns a Mount serving eng.
func New(eng engine.Engine, opts Options) *Mount {
	if opts.UnmountRetry <= 0 {
		opts.UnmountRetry = DefaultUnmountRetry
	}
	return &Mount{
		eng:     eng,
		files:   NewFileTable(opts.MaxOpenFiles),
		metrics: opts.Metrics,
		retry:   opts.UnmountRetry,
		sleep:   time.Sleep,
	}
}

// OpenHandles returns the number of live handles.
func (m *Mount) OpenHandles() int {
	return m.files.Len()
}

// op brackets one operation with the engine fence and records its outcome.
type op struct {
	m     *Mount
	ctx   context.Context
	name  string
	args  []any
	start time.Time
}

func (m *Mount) begin(ctx context.Context, name string, args ...any) (*op, error) {
	o := &op{m: m, ctx: ctx, name: name, args: args, start: time.Now()}
	if err := m.eng.Enter(); err != nil {
		o.record(err)
		return nil, err
	}
	return o, nil
}

// end leaves the fence. err points at the operation's named result.
func (o *op) end(err *error) {
	o.m.eng.Exit()
	o.record(*err)
}

func (o *op) record(err error) {
	o.m.metrics.ObserveOp(o.name, err, time.Since(o.start))
	if err != nil {
		args := append([]any{logger.KeyOp, o.name, logger.KeyErrno, metrics.Result(err), logger.KeyError, err}, o.args...)
		logger.DebugCtx(o.ctx, "operation failed", args...)
	}
}

// Destroy unmounts the engine, retrying while it reports EBUSY. Any other
// failure leaves the pool in an unknown state and panics. Open handles are
// not released; the protocol releases them before teardown.
func (m *Mount) Destroy(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		err := m.eng.Unmount(false)
		if err == nil {
			logger.InfoCtx(ctx, "engine unmounted", logger.KeyAttempt, attempt)
			return
		}
		if !errors.Is(err, unix.EBUSY) {
			logger.Error("engine unmount failed", logger.KeyAttempt, attempt, logger.KeyError, err)
			panic(fmt.Sprintf("slash: unmount: %v", err))
		}
		m.metrics.UnmountRetry()
		logger.InfoCtx(ctx, "unmount refused, retrying",
			logger.KeyAttempt, attempt, logger.KeyError, err, logger.KeyElapsed, m.retry)
		m.sleep(m.retry)
	}
}
