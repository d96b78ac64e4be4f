// Package syncer reconciles the projection with the ledger in the background.
package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetryInterval = 2 * time.Second
	DefaultMaxBackoff    = 5 * time.Minute
	DefaultWorkers       = 4
	DefaultPageSize      = 100

	// DefaultMaxNotFoundAttempts drops entries whose certificate never shows up
	// on the ledger, e.g. after a registration with unknown outcome that did not land.
	DefaultMaxNotFoundAttempts = 5
)

// Resyncer rewrites one projection record from ledger state.
type Resyncer interface {
	Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error)
}

type Config struct {
	RetryInterval       time.Duration `yaml:"retryInterval" envconfig:"RETRY_INTERVAL"`
	MaxBackoff          time.Duration `yaml:"maxBackoff" envconfig:"MAX_BACKOFF"`
	FullResyncInterval  time.Duration `yaml:"fullResyncInterval" envconfig:"FULL_RESYNC_INTERVAL"`
	ResyncOnStart       bool          `yaml:"resyncOnStart" envconfig:"RESYNC_ON_START"`
	Workers             int           `yaml:"workers" envconfig:"WORKERS"`
	PageSize            int           `yaml:"pageSize" envconfig:"PAGE_SIZE"`
	MaxNotFoundAttempts int           `yaml:"maxNotFoundAttempts" envconfig:"MAX_NOT_FOUND_ATTEMPTS"`
}

func (c *Config) setDefaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxBackoff < c.RetryInterval {
		c.MaxBackoff = max(DefaultMaxBackoff, c.RetryInterval)
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxNotFoundAttempts <= 0 {
		c.MaxNotFoundAttempts = DefaultMaxNotFoundAttempts
	}
}

// Entry is one certificate waiting for a projection retry.
type Entry struct {
	CertificateID interfaces.CertificateID `json:"certificateId"`
	Attempts      int                      `json:"attempts"`
	NextAttempt   time.Time                `json:"nextAttempt"`
	LastError     string                   `json:"lastError,omitempty"`
}

// Reconciler retries failed projection syncs with exponential backoff and
// periodically resyncs every ledger certificate.
type Reconciler struct {
	resyncer Resyncer
	ledger   interfaces.LedgerReader
	cfg      Config
	metrics  *metrics.RegistryMetrics
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	backlog map[interfaces.CertificateID]*Entry
	wake    chan struct{}
}

func New(resyncer Resyncer, ledger interfaces.LedgerReader, cfg Config, m *metrics.RegistryMetrics, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.setDefaults()
	return &Reconciler{
		resyncer: resyncer,
		ledger:   ledger,
		cfg:      cfg,
		metrics:  m,
		log:      log.With("component", "syncer"),
		now:      time.Now,
		backlog:  make(map[interfaces.CertificateID]*Entry),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue records a failed projection sync. It never blocks.
func (r *Reconciler) Enqueue(id interfaces.CertificateID, cause error) {
	r.mu.Lock()
	entry, ok := r.backlog[id]
	if !ok {
		entry = &Entry{CertificateID: id, NextAttempt: r.now()}
		r.backlog[id] = entry
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	size := len(r.backlog)
	r.mu.Unlock()

	r.metrics.SetSyncBacklog(size)
	r.log.Debug("projection sync queued", "certificateId", id, "backlog", size)

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns a snapshot of the backlog ordered by certificate id.
func (r *Reconciler) Pending() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.backlog))
	for _, e := range r.backlog {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CertificateID < entries[j].CertificateID })
	return entries
}

// RetryDue resyncs every backlog entry whose next attempt is due and returns
// how many were synced.
func (r *Reconciler) RetryDue(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var due []interfaces.CertificateID
	for id, e := range r.backlog {
		if !e.NextAttempt.After(now) {
			due = append(due, id)
		}
	}
	r.mu.Unlock()
	if len(due) == 0 {
		return 0
	}

	var (
		synced   int
		syncedMu sync.Mutex
	)
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Workers)
	for _, id := range due {
		g.Go(func() error {
			_, err := r.resyncer.Resync(ctx, id)
			if r.settle(id, err) {
				syncedMu.Lock()
				synced++
				syncedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.SetSyncBacklog(r.backlogSize())
	return synced
}

// settle updates the backlog after an attempt and reports whether it synced.
func (r *Reconciler) settle(id interfaces.CertificateID, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.backlog[id]
	if !ok {
		return err == nil
	}
	if err == nil {
		delete(r.backlog, id)
		r.log.Info("projection caught up", "certificateId", id, "attempts", entry.Attempts+1)
		return true
	}

	entry.Attempts++
	entry.LastError = err.Error()

	if errors.Is(err, interfaces.ErrNotFound) && entry.Attempts >= r.cfg.MaxNotFoundAttempts {
		delete(r.backlog, id)
		r.log.Warn("dropping projection sync, certificate not on ledger", "certificateId", id, "attempts", entry.Attempts)
		return false
	}

	entry.NextAttempt = r.now().Add(r.backoff(entry.Attempts))
	r.log.Warn("projection sync retry failed", "certificateId", id, "attempts", entry.Attempts, "nextAttempt", entry.NextAttempt, "err", err)
	return false
}

func (r *Reconciler) backoff(attempts int) time.Duration {
	d := r.cfg.RetryInterval
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return min(d, r.cfg.MaxBackoff)
}

func (r *Reconciler) backlogSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog)
}

// ResyncAll pages through every ledger certificate and resyncs it. Failed
// certificates are queued for retry. It returns the number synced.
func (r *Reconciler) ResyncAll(ctx context.Context) (int, error) {
	var (
		after  interfaces.CertificateID
		synced int
		mu     sync.Mutex
	)
	start := r.now()

	for {
		ids, err := r.ledger.CertificateIDs(ctx, after, r.cfg.PageSize)
		if err != nil {
			return synced, err
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Workers)
		for _, id := range ids {
			g.Go(func() error {
				if _, err := r.resyncer.Resync(gctx, id); err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					r.Enqueue(id, err)
					return nil
				}
				r.settle(id, nil)
				mu.Lock()
				synced++
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return synced, err
		}

		if len(ids) < r.cfg.PageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	r.log.Info("full resync finished", "synced", synced, "backlog", r.backlogSize(), "duration", r.now().Sub(start))
	return synced, nil
}

// Run retries the backlog until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciler started", "retryInterval", r.cfg.RetryInterval, "fullResyncInterval", r.cfg.FullResyncInterval)
	defer r.log.Info("reconciler stopped")

	if r.cfg.ResyncOnStart {
		if _, err := r.ResyncAll(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("initial resync failed", "err", err)
		}
	}

	retry := time.NewTicker(r.cfg.RetryInterval)
	defer retry.Stop()

	var full <-chan time.Time
	if r.cfg.FullResyncInterval > 0 {
		fullTicker := time.NewTicker(r.cfg.FullResyncInterval)
		defer fullTicker.Stop()
		full = fullTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
			r.RetryDue(ctx)
		case <-retry.C:
			r.RetryDue(ctx)
		case <-full:
			if _, err := r.ResyncAll(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("full resync failed", "err", err)
			}
		}
	}
}

var _ interfaces.SyncQueue = (*Reconciler)(nil)
