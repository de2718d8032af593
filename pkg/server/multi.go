package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dubu13/webserv/pkg/config"
	"github.com/dubu13/webserv/pkg/logging"
)

// MultiManager runs one reactor per worker over disjoint endpoint sets.
// Workers share nothing but the immutable configuration tree; each gets its
// own dispatcher, cache, and metrics through the factory.
type MultiManager struct {
	log      logging.Logger
	managers []*Manager
}

// ManagerFactory builds a reactor for one configuration partition. It is
// called once per worker so each reactor gets worker-local state.
type ManagerFactory func(part *config.Config, worker int) *Manager

// NewMultiManager partitions cfg across up to workers reactors.
func NewMultiManager(log logging.Logger, cfg *config.Config, workers int, factory ManagerFactory) *MultiManager {
	parts := cfg.Partition(workers)
	managers := make([]*Manager, 0, len(parts))
	for i, part := range parts {
		managers = append(managers, factory(part, i))
	}
	return &MultiManager{log: log, managers: managers}
}

// Run starts every reactor and blocks until all stop. The first reactor
// error cancels the rest.
func (m *MultiManager) Run(ctx context.Context) error {
	m.log.Infof("starting %d reactors", len(m.managers))
	g, ctx := errgroup.WithContext(ctx)
	for _, mgr := range m.managers {
		g.Go(func() error {
			return mgr.Run(ctx)
		})
	}
	return g.Wait()
}
