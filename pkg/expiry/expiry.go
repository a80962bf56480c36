package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/logging"
)

// Config defines how often overdue requests are swept
type Config struct {
	Enabled             bool
	Interval            time.Duration
	InitialDelay        time.Duration
	MaintenanceInterval time.Duration
}

// DefaultConfig returns sensible defaults for expiry
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Interval:            30 * time.Second,
		InitialDelay:        5 * time.Second,
		MaintenanceInterval: 10 * time.Minute,
	}
}

// Expirer moves pending requests past their deadline to expired
type Expirer interface {
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// MaintenanceFunc is a periodic housekeeping task, such as dropping idle
// rate limiters or expired API keys. It returns how many entries it removed.
type MaintenanceFunc func() int

// Manager runs the expiry sweep and maintenance tasks in the background
type Manager struct {
	config      Config
	expirer     Expirer
	maintenance map[string]MaintenanceFunc
	logger      *logging.Logger
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// Stats tracks sweep operations
type Stats struct {
	LastSweepTime       time.Time     `json:"last_sweep_time"`
	LastSweepDuration   time.Duration `json:"last_sweep_duration"`
	TotalExpired        int64         `json:"total_expired"`
	TotalSweeps         int64         `json:"total_sweeps"`
	SweepErrors         int64         `json:"sweep_errors"`
	LastMaintenanceTime time.Time     `json:"last_maintenance_time"`
	MaintenanceRemoved  int64         `json:"maintenance_removed"`
}

// NewManager creates a new expiry manager
func NewManager(config Config, expirer Expirer, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:      config,
		expirer:     expirer,
		maintenance: make(map[string]MaintenanceFunc),
		logger:      logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddMaintenance registers a housekeeping task run every MaintenanceInterval.
// Must be called before Start.
func (m *Manager) AddMaintenance(name string, fn MaintenanceFunc) {
	m.maintenance[name] = fn
}

// Start begins the background sweep and maintenance loops. Enabled gates
// only the sweep; registered maintenance tasks run either way.
func (m *Manager) Start() {
	if m.config.Enabled {
		m.logger.Info("Starting expiry manager", map[string]interface{}{
			"interval":      m.config.Interval.String(),
			"initial_delay": m.config.InitialDelay.String(),
		})
		m.wg.Add(1)
		go m.sweepLoop()
	} else {
		m.logger.Info("Request expiry disabled")
	}

	if len(m.maintenance) > 0 && m.config.MaintenanceInterval > 0 {
		m.logger.Info("Starting maintenance tasks", map[string]interface{}{
			"tasks":    len(m.maintenance),
			"interval": m.config.MaintenanceInterval.String(),
		})
		m.wg.Add(1)
		go m.maintenanceLoop()
	}
}

// Stop gracefully stops the manager. It is safe to call more than once.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Debug("Expiry manager stopped")
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	if m.config.InitialDelay > 0 {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.config.InitialDelay):
		}
	}
	m.RunOnce(m.ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(m.ctx)
		}
	}
}

func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunMaintenance()
		}
	}
}

// RunOnce performs a single sweep and returns the number of requests expired
func (m *Manager) RunOnce(ctx context.Context) int {
	start := time.Now()
	expired, err := m.expirer.ExpirePending(ctx, m.now())
	duration := time.Since(start)

	m.mu.Lock()
	m.stats.LastSweepTime = m.now()
	m.stats.LastSweepDuration = duration
	m.stats.TotalSweeps++
	m.stats.TotalExpired += int64(expired)
	if err != nil {
		m.stats.SweepErrors++
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Expiry sweep failed", map[string]interface{}{
			"error":   err.Error(),
			"expired": expired,
		})
		return expired
	}
	if expired > 0 {
		m.logger.Info("Expired overdue requests", map[string]interface{}{
			"count":    expired,
			"duration": duration.String(),
		})
	}
	return expired
}

// RunMaintenance runs every registered housekeeping task once
func (m *Manager) RunMaintenance() int {
	total := 0
	for name, fn := range m.maintenance {
		removed := fn()
		total += removed
		if removed > 0 {
			m.logger.Debug("Maintenance task removed entries", map[string]interface{}{
				"task":    name,
				"removed": removed,
			})
		}
	}

	m.mu.Lock()
	m.stats.LastMaintenanceTime = m.now()
	m.stats.MaintenanceRemoved += int64(total)
	m.mu.Unlock()
	return total
}

// Stats returns a copy of the current counters
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
