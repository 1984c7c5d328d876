package workerpool

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/config"
	"github.com/fastygo/knowledge/internal/metrics"
)

// Pools holds one pool per event domain.
type Pools struct {
	byDomain map[domain.EventDomain]*Pool
}

// Factory builds pools from profiles.
type Factory struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewFactory(m *metrics.Metrics, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{metrics: m, logger: logger}
}

// Build starts a pool for every profile. Profile names must be domain names.
func (f *Factory) Build(profiles ...Profile) (*Pools, error) {
	pools := &Pools{byDomain: make(map[domain.EventDomain]*Pool, len(profiles))}
	for _, profile := range profiles {
		d := domain.EventDomain(profile.Name)
		if _, dup := pools.byDomain[d]; dup {
			return nil, fmt.Errorf("duplicate pool profile %q", profile.Name)
		}
		pools.byDomain[d] = New(profile, f.metrics, f.logger)
		f.logger.Info("worker pool started",
			zap.String("pool", profile.Name),
			zap.Int("core", profile.Core),
			zap.Int("max", profile.Max),
			zap.Int("queue", profile.QueueCapacity))
	}
	return pools, nil
}

// For returns the pool of d.
func (p *Pools) For(d domain.EventDomain) (*Pool, bool) {
	pool, ok := p.byDomain[d]
	return pool, ok
}

// Shutdown drains every pool concurrently and joins their errors.
func (p *Pools) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	errs := make([]error, 0, len(p.byDomain))
	results := make(chan error, len(p.byDomain))
	for _, pool := range p.byDomain {
		pool := pool
		g.Go(func() error {
			results <- pool.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProfilesFrom maps pool configuration to one caller-runs profile per domain.
func ProfilesFrom(cfg config.PoolsConfig) []Profile {
	build := func(d domain.EventDomain, pc config.PoolConfig) Profile {
		return Profile{
			Name:             string(d),
			Core:             pc.Core,
			Max:              pc.Max,
			QueueCapacity:    pc.QueueCapacity,
			KeepAlive:        pc.KeepAlive,
			AwaitTermination: cfg.AwaitTermination,
			Policy:           CallerRuns,
		}
	}
	return []Profile{
		build(domain.DomainArticle, cfg.Article),
		build(domain.DomainComment, cfg.Comment),
		build(domain.DomainNotification, cfg.Notification),
		build(domain.DomainStats, cfg.Stats),
	}
}
