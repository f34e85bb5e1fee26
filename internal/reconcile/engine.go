// Package reconcile holds the periodic jobs that drive the panel's local
// state and the media servers toward agreement: reaping expired accounts,
// deleting orphaned devices, enforcing per-plan device limits, and reporting
// server health. Jobs mutate remote state first and local state only after
// the remote confirmed, so a crash can leave a remote leftover for the next
// pass but never a local record pointing at nothing.
package reconcile

import (
	"context"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"

	"github.com/streampanel/streampanel/internal/audit"
	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/lockset"
	"github.com/streampanel/streampanel/internal/notify"
	"github.com/streampanel/streampanel/internal/remote"
)

type Engine struct {
	db       *database.DB
	locks    *lockset.LockSet
	backends map[string]remote.Backend
	notifier notify.Notifier
	auditLog *audit.Logger
	statsd   *statsd.Client
	log      *logrus.Logger
}

type Option func(*Engine)

func WithStatsd(client *statsd.Client) Option {
	return func(e *Engine) {
		e.statsd = client
	}
}

func WithNotifier(notifier notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

func WithAuditLog(auditLog *audit.Logger) Option {
	return func(e *Engine) {
		e.auditLog = auditLog
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

func NewEngine(db *database.DB, locks *lockset.LockSet, backends map[string]remote.Backend, options ...Option) *Engine {
	engine := &Engine{
		db:       db,
		locks:    locks,
		backends: backends,
		log:      logrus.StandardLogger(),
	}
	for _, option := range options {
		option(engine)
	}
	return engine
}

// incr is nil-safe: metrics are optional and the jobs never fail for lack of
// a statsd socket.
func (e *Engine) incr(name string, value int64) {
	if e.statsd != nil {
		_ = e.statsd.Count(name, value, []string{}, 1.0)
	}
}

func (e *Engine) notify(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, text); err != nil {
		e.log.Warnf("failed to send notification: %v", err)
	}
}

func (e *Engine) auditError(context string, err error) {
	if e.auditLog != nil {
		e.auditLog.Error(context, err)
	}
}

// backendFor returns the adapter for a server's service type.
func (e *Engine) backendFor(server *database.Server) (remote.Backend, bool) {
	backend, ok := e.backends[server.Service]
	return backend, ok
}
