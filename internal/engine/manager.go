package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logharbor/logharbor/internal/ingest"
	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/policy"
)

const (
	DefaultMaxSegmentAge    = 24 * time.Hour
	DefaultRotationInterval = time.Minute
	DefaultCompressAfter    = 24 * time.Hour
	DefaultCompactInterval  = 15 * time.Minute
	DefaultSweepInterval    = time.Hour
)

// Config wires the manager. Zero durations and sizes take the defaults
// above; a zero Retention policy disables the background sweep without
// disabling on-demand cleanup.
type Config struct {
	DataDir          string
	MaxSegmentBytes  int64
	MaxSegmentAge    time.Duration
	RotationInterval time.Duration
	CompressAfter    time.Duration
	CompactInterval  time.Duration
	SweepInterval    time.Duration
	MaxBatchSize     int
	Retention        policy.Policy
	Logger           *slog.Logger
	Now              func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentAge <= 0 {
		c.MaxSegmentAge = DefaultMaxSegmentAge
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = DefaultRotationInterval
	}
	if c.CompressAfter <= 0 {
		c.CompressAfter = DefaultCompressAfter
	}
	if c.CompactInterval <= 0 {
		c.CompactInterval = DefaultCompactInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Manager fronts the whole engine: normalization, the segment store, and
// the maintenance loops, behind one surface the server and CLI share.
type Manager struct {
	cfg        Config
	store      *Store
	normalizer *ingest.Normalizer
	rotator    *Rotator
	compactor  *Compactor
	sweeper    *Sweeper
	logger     *slog.Logger
}

func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()

	store, err := NewStore(cfg.DataDir, cfg.MaxSegmentBytes, cfg.Logger.With("component", "store"), cfg.Now)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:        cfg,
		store:      store,
		normalizer: ingest.NewNormalizer(cfg.MaxBatchSize, cfg.Now),
		rotator:    NewRotator(store, cfg.MaxSegmentAge, cfg.RotationInterval, cfg.Logger),
		compactor:  NewCompactor(store, cfg.CompressAfter, cfg.CompactInterval, cfg.Logger),
		sweeper:    NewSweeper(store, cfg.Retention, cfg.SweepInterval, cfg.Logger),
		logger:     cfg.Logger,
	}, nil
}

// Submit validates, normalizes, and stores one raw JSON entry, returning
// it with its assigned id and applied defaults.
func (m *Manager) Submit(body []byte) (*model.Entry, error) {
	e, err := m.normalizer.One(body)
	if err != nil {
		return nil, err
	}
	if err := m.store.Append(e); err != nil {
		return nil, err
	}
	return e, nil
}

// SubmitBatch stores a JSON array of entries. Each entry is judged on its
// own: invalid ones are reported by index, valid ones are stored. Only a
// store failure aborts, reporting what was accepted up to that point.
func (m *Manager) SubmitBatch(body []byte) (model.BatchResult, error) {
	entries, failures, err := m.normalizer.Batch(body)
	if err != nil {
		return model.BatchResult{}, err
	}

	result := model.BatchResult{Failures: failures}
	for i := range entries {
		if err := m.store.Append(&entries[i]); err != nil {
			return result, err
		}
		result.IDs = append(result.IDs, entries[i].ID)
	}
	return result, nil
}

func (m *Manager) Query(opts QueryOptions) (QueryResult, error) {
	return m.store.Query(opts)
}

func (m *Manager) Stats(filter model.Filter) (model.Stats, error) {
	return m.store.Stats(filter)
}

func (m *Manager) Histogram(filter model.Filter, interval time.Duration) ([]HistogramPoint, error) {
	return m.store.Histogram(filter, interval)
}

// Cleanup removes immutable segments whose newest entry is older than
// days, optionally narrowed to one project or one level.
func (m *Manager) Cleanup(ctx context.Context, days int, project string, level model.Level) (CleanupResult, error) {
	return m.sweeper.Cleanup(ctx, days, project, level)
}

func (m *Manager) ListSegments(project string, state SegmentState) ([]SegmentInfo, error) {
	return m.store.ListSegments(project, state)
}

// SealActive, SweepOnce, and CompactOnce expose single maintenance steps
// for the CLI and tests; the background loops call the same code.
func (m *Manager) SealActive(project string) (string, error) {
	return m.store.SealActive(project)
}

func (m *Manager) SweepOnce(ctx context.Context) (SweepResult, error) {
	return m.sweeper.SweepOnce(ctx)
}

func (m *Manager) CompactOnce(ctx context.Context) (int, error) {
	return m.compactor.CompactOnce(ctx)
}

// Run drives the background maintenance loops until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { m.rotator.Run(ctx); return nil })
	g.Go(func() error { m.compactor.Run(ctx); return nil })
	g.Go(func() error { m.sweeper.Run(ctx); return nil })
	return g.Wait()
}

// Close syncs and closes the journals without sealing; buffered entries
// replay on the next start.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Health summarizes the store for the liveness endpoint.
type Health struct {
	Status    string `json:"status"`
	Scopes    int    `json:"scopes"`
	Segments  int    `json:"segments"`
	DiskUsage int64  `json:"disk_usage_bytes"`
}

func (m *Manager) Health() Health {
	infos, _ := m.store.ListSegments("", "")
	dirs, _ := m.store.scanDirs("")
	return Health{
		Status:    "ok",
		Scopes:    len(dirs),
		Segments:  len(infos),
		DiskUsage: m.store.DiskUsage(),
	}
}
