// Package syncer drives push-then-pull synchronization between the local
// cache and the remote API.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/api"
	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/device"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"github.com/MarcoPoloResearchLab/studysync/internal/syncqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultInterval       = 5 * time.Minute
	defaultRequestTimeout = 30 * time.Second
)

var (
	// ErrSyncInProgress is returned when a cycle is already running.
	ErrSyncInProgress = errors.New("syncer: sync already in progress")
	// ErrNotInitialized is returned when a cycle is requested before Initialize.
	ErrNotInitialized = errors.New("syncer: manager is not initialized")

	errMissingStore  = errors.New("syncer: store is required")
	errMissingQueue  = errors.New("syncer: queue is required")
	errMissingClient = errors.New("syncer: api client is required")
)

// RemoteClient is the subset of the API client used by the manager.
type RemoteClient interface {
	IsAuthenticated() bool
	Push(ctx context.Context, tableName string, records []api.Record, deviceID string) (api.PushResponse, error)
	Pull(ctx context.Context, request api.PullRequest) (api.PullResponse, error)
}

// State is the manager's position in the sync cycle.
type State int32

const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config wires a Manager.
type Config struct {
	Store  *database.Store
	Queue  *syncqueue.Queue
	Client RemoteClient
	// Interval between periodic cycles.
	Interval time.Duration
	// RequestTimeout bounds each push or pull call.
	RequestTimeout time.Duration
	// QueueRetention prunes journal entries older than this after a successful
	// pull. Zero keeps the journal forever.
	QueueRetention time.Duration
	Platform       string
	Model          string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Manager owns the sync state machine. Create one per process.
type Manager struct {
	store          *database.Store
	queue          *syncqueue.Queue
	client         RemoteClient
	interval       time.Duration
	requestTimeout time.Duration
	retention      time.Duration
	platform       string
	model          string
	clock          func() time.Time
	logger         *zap.Logger

	state atomic.Int32

	deviceMu sync.Mutex
	deviceID string

	periodicMu sync.Mutex
	periodic   *PeriodicSync
}

// NewManager validates cfg and constructs an idle Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	platform := cfg.Platform
	if platform == "" {
		platform = runtime.GOOS
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:          cfg.Store,
		queue:          cfg.Queue,
		client:         cfg.Client,
		interval:       interval,
		requestTimeout: requestTimeout,
		retention:      cfg.QueueRetention,
		platform:       platform,
		model:          cfg.Model,
		clock:          clock,
		logger:         logger,
	}, nil
}

// Initialize opens the store, loads or creates the device identity and
// (re)starts the periodic timer bound to ctx.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.store.Initialize(ctx); err != nil {
		return err
	}
	if _, err := m.ensureDevice(ctx); err != nil {
		return err
	}
	m.StartPeriodicSync(ctx)
	return nil
}

// State reports the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsSyncing reports whether a cycle is running.
func (m *Manager) IsSyncing() bool {
	return m.State() == StateSyncing
}

// DeviceID returns the identity established by Initialize, or "".
func (m *Manager) DeviceID() string {
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()
	return m.deviceID
}

// PerformSync runs one cycle and reports whether it ran. A concurrent call
// returns false immediately.
func (m *Manager) PerformSync(ctx context.Context) bool {
	_, err := m.Sync(ctx)
	return err == nil
}

// Sync runs one push-then-pull cycle. Per-table push failures and pull
// failures are recorded in the report; only single-flight rejection and
// missing prerequisites produce an error.
func (m *Manager) Sync(ctx context.Context) (Report, error) {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		m.logger.Debug("sync skipped: cycle already running")
		return Report{}, ErrSyncInProgress
	}
	defer m.state.Store(int32(StateIdle))

	deviceID := m.DeviceID()
	if deviceID == "" {
		return Report{}, ErrNotInitialized
	}

	started := m.clock()
	report := newReport()
	m.pushLocalChanges(ctx, deviceID, &report)
	m.pullServerUpdates(ctx, deviceID, &report)

	if report.PullErr == nil && m.retention > 0 {
		if _, err := m.queue.Prune(ctx, m.clock().Add(-m.retention)); err != nil {
			m.logger.Warn("sync queue prune failed", zap.Error(err))
		}
	}

	report.Duration = m.clock().Sub(started)
	m.logger.Info("sync cycle completed",
		zap.String("device_id", deviceID),
		zap.Int("pushed", report.TotalPushed()),
		zap.Int("push_failures", len(report.PushErrors)),
		zap.Int("pulled", report.TotalPulled()),
		zap.Bool("pull_failed", report.PullErr != nil),
		zap.Int("overwritten_pending", report.OverwrittenPending),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// ForcePullFromServer discards every pull watermark and runs a cycle, which
// re-pulls the full server state.
func (m *Manager) ForcePullFromServer(ctx context.Context) bool {
	_, err := m.ForcePull(ctx)
	return err == nil
}

// ForcePull is ForcePullFromServer returning the cycle report.
func (m *Manager) ForcePull(ctx context.Context) (Report, error) {
	if _, err := m.store.Execute(ctx, "DELETE FROM sync_status"); err != nil {
		m.logger.Error("force pull: reset sync status failed", zap.Error(err))
		return Report{}, fmt.Errorf("syncer: reset sync status: %w", err)
	}
	return m.Sync(ctx)
}

// AddToSyncQueue journals a mutation and flags the row for push.
func (m *Manager) AddToSyncQueue(ctx context.Context, table, recordID, action string, snapshot any) error {
	_, err := m.queue.Enqueue(ctx, table, recordID, action, snapshot)
	return err
}

// StatusSnapshot summarizes sync progress for display.
type StatusSnapshot struct {
	State       State
	DeviceID    string
	Global      *models.SyncStatus
	Pending     map[string]int64
	QueueLength int64
}

// Status reads the global sync row and the pending row counts.
func (m *Manager) Status(ctx context.Context) (StatusSnapshot, error) {
	snapshot := StatusSnapshot{
		State:    m.State(),
		DeviceID: m.DeviceID(),
		Pending:  make(map[string]int64),
	}
	if snapshot.DeviceID == "" {
		identity, err := device.Load(ctx, m.store)
		if err != nil {
			return StatusSnapshot{}, err
		}
		snapshot.DeviceID = identity
	}

	db, err := m.store.DB(ctx)
	if err != nil {
		return StatusSnapshot{}, err
	}
	var global models.SyncStatus
	err = db.Where("table_name = ?", models.GlobalSyncScope).Take(&global).Error
	switch {
	case err == nil:
		snapshot.Global = &global
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return StatusSnapshot{}, err
	}

	for _, spec := range models.PushTables() {
		count, err := pendingCount(ctx, m.store, spec.Name)
		if err != nil {
			return StatusSnapshot{}, err
		}
		snapshot.Pending[spec.Name] = count
	}

	length, err := m.queue.Count(ctx)
	if err != nil {
		return StatusSnapshot{}, err
	}
	snapshot.QueueLength = length
	return snapshot, nil
}

func (m *Manager) ensureDevice(ctx context.Context) (string, error) {
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()
	if m.deviceID != "" {
		return m.deviceID, nil
	}
	identity, err := device.EnsureIdentity(ctx, m.store, m.platform, m.model, m.clock)
	if err != nil {
		return "", err
	}
	m.deviceID = identity
	return identity, nil
}

func pendingCount(ctx context.Context, store *database.Store, table string) (int64, error) {
	row, err := store.SelectFirst(ctx,
		"SELECT COUNT(*) AS total FROM "+database.QuoteIdent(table)+" WHERE needs_sync = 1 AND is_synced = 0")
	if err != nil {
		return 0, err
	}
	return row.Int64("total"), nil
}
