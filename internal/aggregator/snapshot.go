package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"sitepulse/internal/pkg/async"
	"sitepulse/internal/sessions"
)

// Snapshot is a point-in-time view of site activity, refreshed on a fixed
// cadence and pushed to dashboard consumers. Consumers accept a staleness
// bound instead of linearizable reads.
type Snapshot struct {
	GeneratedAt         time.Time       `json:"generatedAt"`
	ActiveCount         int             `json:"activeCount"`
	ActiveVisitors      []ActiveVisitor `json:"activeVisitors"`
	PopularPages        []PageCount     `json:"popularPages"`
	Devices             []LabelCount    `json:"devices"`
	Browsers            []LabelCount    `json:"browsers"`
	Referrers           []LabelCount    `json:"referrers"`
	UniqueVisitorsToday int             `json:"uniqueVisitorsToday"`
}

// Publisher fans snapshots out to subscribers. Sends never block: a consumer
// that cannot keep up misses a frame and catches up on the next one.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Snapshot
	nextID      uint64
	latest      *Snapshot
}

func NewPublisher() *Publisher {
	return &Publisher{subscribers: make(map[uint64]chan Snapshot)}
}

// Subscribe registers a consumer. The returned cancel function must be called
// when the consumer goes away.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Snapshot, 1)
	p.subscribers[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish stores the snapshot as latest and offers it to every subscriber
// without blocking.
func (p *Publisher) Publish(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = &s
	for _, ch := range p.subscribers {
		select {
		case ch <- s:
		default:
			// Subscriber still holds the previous frame; drop this one.
		}
	}
}

// Latest returns the most recently published snapshot, if any.
func (p *Publisher) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Snapshot{}, false
	}
	return *p.latest, true
}

// SubscriberCount returns the number of attached consumers.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// Defaults for the snapshot view.
const (
	defaultPagesWindow     = 15 * time.Minute
	defaultPagesLimit      = 10
	defaultBreakdownWindow = 24 * time.Hour
	collectWorkers         = 4
)

// Collector computes snapshots from the session store. It shares the
// engine's clock and active window so classification matches ingestion.
type Collector struct {
	dbManager cartridge.DBManager
	engine    *sessions.Engine
	logger    *slog.Logger
	pool      *async.Pool

	pagesWindow     time.Duration
	pagesLimit      int
	breakdownWindow time.Duration
}

func NewCollector(dbManager cartridge.DBManager, engine *sessions.Engine, logger *slog.Logger) *Collector {
	return &Collector{
		dbManager:       dbManager,
		engine:          engine,
		logger:          logger,
		pool:            async.NewPool(collectWorkers),
		pagesWindow:     defaultPagesWindow,
		pagesLimit:      defaultPagesLimit,
		breakdownWindow: defaultBreakdownWindow,
	}
}

// Collect runs the snapshot queries concurrently and assembles the result.
// Individual query failures degrade that section to empty rather than
// failing the whole snapshot.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	db := c.dbManager.GetConnection()
	now := c.engine.Now()
	breakdownFrom := now.Add(-c.breakdownWindow)

	tasks := []async.Task{
		{Name: "active", Execute: func() (interface{}, error) {
			return ActiveVisitors(db, now, c.engine.ActiveWindow())
		}},
		{Name: "pages", Execute: func() (interface{}, error) {
			return PopularPages(db, now, c.pagesWindow, c.pagesLimit)
		}},
		{Name: "devices", Execute: func() (interface{}, error) {
			return Breakdown(db, ByDevice, breakdownFrom, now)
		}},
		{Name: "browsers", Execute: func() (interface{}, error) {
			return Breakdown(db, ByBrowser, breakdownFrom, now)
		}},
		{Name: "referrers", Execute: func() (interface{}, error) {
			return Breakdown(db, ByReferrer, breakdownFrom, now)
		}},
		{Name: "unique", Execute: func() (interface{}, error) {
			return UniqueVisitorsForDay(db, now)
		}},
	}

	results := c.pool.Execute(ctx, tasks)

	snapshot := Snapshot{GeneratedAt: now}
	if visitors, ok := resultAs[[]ActiveVisitor](c.logger, results, "active"); ok {
		snapshot.ActiveVisitors = visitors
		snapshot.ActiveCount = len(visitors)
	}
	if pages, ok := resultAs[[]PageCount](c.logger, results, "pages"); ok {
		snapshot.PopularPages = pages
	}
	if devices, ok := resultAs[[]LabelCount](c.logger, results, "devices"); ok {
		snapshot.Devices = devices
	}
	if browsers, ok := resultAs[[]LabelCount](c.logger, results, "browsers"); ok {
		snapshot.Browsers = browsers
	}
	if refs, ok := resultAs[[]LabelCount](c.logger, results, "referrers"); ok {
		snapshot.Referrers = refs
	}
	if unique, ok := resultAs[int](c.logger, results, "unique"); ok {
		snapshot.UniqueVisitorsToday = unique
	}
	return snapshot
}

// Refresh collects a snapshot and publishes it.
func (c *Collector) Refresh(ctx context.Context, publisher *Publisher) {
	publisher.Publish(c.Collect(ctx))
}

func resultAs[T any](logger *slog.Logger, results map[string]async.Result, name string) (T, bool) {
	var zero T
	result, ok := results[name]
	if !ok {
		return zero, false
	}
	if result.Err != nil {
		logger.Error("Snapshot query failed",
			slog.String("query", name),
			slog.Any("error", result.Err))
		return zero, false
	}
	value, ok := result.Data.(T)
	return value, ok
}
