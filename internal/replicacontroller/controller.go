// Package replicacontroller is the client-side glue described in
// §4.4: it drives scheduling and sync on timers, reconciles the local
// Document with the sync service, and persists state between runs.
// The Document is never touched by more than one goroutine at a time —
// every mutation happens on the controller's own ticker loop.
package replicacontroller

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/document"
	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
	"github.com/beepshq/beeps/internal/localstore"
	"github.com/beepshq/beeps/internal/metrics"
)

// syncTransport is the subset of *syncclient.Client the controller
// depends on, kept as an interface so tests can fake the network.
type syncTransport interface {
	Push(ctx context.Context, ops []oplog.Op) error
	Pull(ctx context.Context, watermarks map[hlc.NodeID]hlc.Timestamp) ([]oplog.Op, error)
}

// PingRevealer is notified when a previously-scheduled ping's instant
// has passed and should move from "hidden" to "visible to the user"
// (§4.4 responsibility 3). Front-ends implement this; the core never
// does.
type PingRevealer interface {
	PingsRevealed(pings []time.Time)
}

// Config tunes the controller's tick cadence and scheduling horizon.
type Config struct {
	SyncInterval   time.Duration // default 10s: schedule + push + pull (§4.4.2)
	RevealInterval time.Duration // default 1s: reveal due pings (§4.4.3)
	Horizon        time.Duration // how far ahead schedule_pings looks
}

// DefaultConfig returns the cadence §4.4 specifies.
func DefaultConfig() Config {
	return Config{
		SyncInterval:   10 * time.Second,
		RevealInterval: 1 * time.Second,
		Horizon:        24 * time.Hour,
	}
}

// Controller owns one Document's lifecycle on one client process.
type Controller struct {
	cfg    Config
	doc    *document.Document
	store  *localstore.Store
	client syncTransport

	logger  *zap.Logger
	metrics *metrics.Metrics

	revealer PingRevealer

	mu             sync.Mutex
	watermarks     map[hlc.NodeID]hlc.Timestamp
	pushedUpTo     hlc.Timestamp
	revealBoundary time.Time
}

// New constructs a Controller around an already-loaded Document.
// revealer may be nil if nothing needs to observe newly-due pings.
func New(doc *document.Document, store *localstore.Store, client syncTransport, revealer PingRevealer, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Controller {
	return &Controller{
		cfg:      cfg,
		doc:      doc,
		store:    store,
		client:   client,
		logger:   logger,
		metrics:  m,
		revealer: revealer,
	}
}

// LoadWatermarks restores the persisted per-node watermark map so a
// restart does not have to re-pull the server's entire log.
func (c *Controller) LoadWatermarks() error {
	watermarks, err := c.store.LoadWatermarks()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.watermarks = watermarks
	c.mu.Unlock()
	return nil
}

// Run drives the controller's two ticker loops until ctx is
// cancelled, persisting the Document one final time before returning.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.watermarks == nil {
		c.watermarks = make(map[hlc.NodeID]hlc.Timestamp)
	}
	c.mu.Unlock()

	syncTicker := time.NewTicker(c.cfg.SyncInterval)
	defer syncTicker.Stop()
	revealTicker := time.NewTicker(c.cfg.RevealInterval)
	defer revealTicker.Stop()

	// run once immediately so a fresh process doesn't wait a full
	// tick before scheduling/revealing anything.
	c.scheduleTick()
	c.revealTick(time.Now())

	for {
		select {
		case <-syncTicker.C:
			c.scheduleTick()
			if err := c.syncOnce(ctx); err != nil {
				c.logger.Warn("sync cycle failed, will retry next tick", zap.Error(err))
			}

		case now := <-revealTicker.C:
			c.revealTick(now)

		case <-ctx.Done():
			c.logger.Info("replica controller stopping")
			return c.persist()
		}
	}
}

func (c *Controller) scheduleTick() {
	now := time.Now()
	ops := c.doc.SchedulePings(now, now.Add(c.cfg.Horizon))
	if len(ops) == 0 {
		return
	}

	c.metrics.ScheduleRuns.Inc()
	c.metrics.PingsScheduled.Add(float64(len(ops)))
	c.logger.Debug("scheduled new pings", zap.Int("count", len(ops)))

	if err := c.persist(); err != nil {
		c.logger.Warn("persisting document after scheduling failed", zap.Error(err))
	}
}

// syncOnce pushes every local op not yet acknowledged by the server
// and pulls every op newer than the current watermark map, applying
// pulled ops to the local Document. A failure at either step leaves
// the watermark map untouched so the next tick retries cleanly (§5
// "Cancellation").
func (c *Controller) syncOnce(ctx context.Context) error {
	myNode := c.doc.Clock().Node()

	c.mu.Lock()
	pushedUpTo := c.pushedUpTo
	c.mu.Unlock()

	var toPush []oplog.Op
	for _, op := range c.doc.Ops() {
		if op.Clock.Node == myNode && op.Clock.After(pushedUpTo) {
			toPush = append(toPush, op)
		}
	}

	if len(toPush) > 0 {
		if err := c.client.Push(ctx, toPush); err != nil {
			return err
		}
		c.mu.Lock()
		for _, op := range toPush {
			if op.Clock.After(c.pushedUpTo) {
				c.pushedUpTo = op.Clock
			}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	watermarks := cloneWatermarks(c.watermarks)
	c.mu.Unlock()

	pulled, err := c.client.Pull(ctx, watermarks)
	if err != nil {
		return err
	}

	if len(pulled) > 0 {
		c.doc.ApplyAll(pulled)
		c.metrics.OpsApplied.Add(float64(len(pulled)))

		c.mu.Lock()
		for _, op := range pulled {
			if wm, ok := c.watermarks[op.Clock.Node]; !ok || op.Clock.After(wm) {
				c.watermarks[op.Clock.Node] = op.Clock
			}
		}
		watermarksToSave := cloneWatermarks(c.watermarks)
		c.mu.Unlock()

		if err := c.store.SaveWatermarks(watermarksToSave); err != nil {
			c.logger.Warn("persisting watermarks failed", zap.Error(err))
		}
	}

	c.metrics.SyncCyclesTotal.Inc()
	return c.persist()
}

func (c *Controller) revealTick(now time.Time) {
	c.mu.Lock()
	boundary := c.revealBoundary
	c.mu.Unlock()

	view := c.doc.View()
	var due []time.Time
	for _, p := range view.Pings {
		if p.After(boundary) && !p.After(now) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Before(due[j]) })

	c.mu.Lock()
	c.revealBoundary = now
	c.mu.Unlock()

	c.metrics.PingsRevealed.Add(float64(len(due)))
	if c.revealer != nil {
		c.revealer.PingsRevealed(due)
	}
}

func (c *Controller) persist() error {
	return c.store.Save(c.doc)
}

func cloneWatermarks(m map[hlc.NodeID]hlc.Timestamp) map[hlc.NodeID]hlc.Timestamp {
	out := make(map[hlc.NodeID]hlc.Timestamp, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
