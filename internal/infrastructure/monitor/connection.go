package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is satisfied by the pgx pool, the cache store and the broker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sizer is satisfied by the dead-letter parking store.
type Sizer interface {
	Size() (int, error)
}

// Targets lists the dependencies to probe. Nil targets report unhealthy.
type Targets struct {
	Postgres   Pinger
	Redis      Pinger
	Broker     Pinger
	DeadLetter Sizer
}

type Monitor struct {
	targets Targets

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(targets Targets, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		targets:  targets,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online()
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh probes every target once and stores the result.
func (m *Monitor) Refresh() Status {
	dlOK, dlSize := m.checkDeadLetter()
	status := Status{
		PostgreSQL:     m.ping("postgres", m.targets.Postgres, 3*time.Second),
		Redis:          m.ping("redis", m.targets.Redis, 2*time.Second),
		Broker:         m.ping("broker", m.targets.Broker, 2*time.Second),
		DeadLetter:     dlOK,
		DeadLetterSize: dlSize,
		LastCheck:      time.Now(),
	}

	m.mu.Lock()
	previous := m.status
	m.status = status
	m.mu.Unlock()

	if !previous.LastCheck.IsZero() && previous.Online() != status.Online() {
		m.logger.Warn("dependency status changed",
			zap.Bool("online", status.Online()),
			zap.Bool("postgresql", status.PostgreSQL),
			zap.Bool("redis", status.Redis),
			zap.Bool("broker", status.Broker))
	}
	return status
}

func (m *Monitor) ping(name string, target Pinger, timeout time.Duration) bool {
	if target == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := target.Ping(ctx); err != nil {
		m.logger.Debug("health probe failed", zap.String("target", name), zap.Error(err))
		return false
	}
	return true
}

func (m *Monitor) checkDeadLetter() (bool, int) {
	if m.targets.DeadLetter == nil {
		return false, 0
	}
	size, err := m.targets.DeadLetter.Size()
	if err != nil {
		m.logger.Warn("dead-letter size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
