// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultRunInterval = 15 * time.Minute

// Scheduler runs the cleaner on a fixed cadence against every active
// instance whose cleaner config is enabled.
type Scheduler struct {
	service  *Service
	interval time.Duration

	inFlightMu sync.Mutex
	inFlight   map[int]bool
}

func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultRunInterval
	}
	return &Scheduler{
		service:  service,
		interval: interval,
		inFlight: make(map[int]bool),
	}
}

// Start launches the scheduler loop. An initial pass runs immediately;
// subsequent passes follow the configured interval until the context is
// canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		s.runAll(ctx)
		s.loop(ctx)
	}()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// runAll runs the cleaner against every eligible instance concurrently. An
// instance whose previous run is still in flight is skipped this tick rather
// than run twice.
func (s *Scheduler) runAll(ctx context.Context) {
	instances, err := s.service.instanceStore.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list instances")
		return
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, instance := range instances {
		if !instance.IsActive {
			continue
		}

		cfg, err := s.service.configStore.Get(ctx, instance.ID)
		if err != nil {
			log.Error().Err(err).Str("instance", instance.Name).Msg("scheduler: failed to load cleaner config")
			continue
		}
		if !cfg.Enabled {
			continue
		}

		if !s.tryAcquire(instance.ID) {
			log.Warn().Str("instance", instance.Name).Msg("scheduler: previous run still in flight, skipping")
			continue
		}

		instanceID := instance.ID
		instanceName := instance.Name
		g.Go(func() error {
			defer s.release(instanceID)

			if _, err := s.service.ExecuteQueueCleaner(gctx, instanceID); err != nil {
				// A failed run is logged, not fatal to the scheduler.
				log.Error().Err(err).Str("instance", instanceName).Msg("scheduler: cleaner run failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("scheduler: run group failed")
	}
}

func (s *Scheduler) tryAcquire(instanceID int) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()

	if s.inFlight[instanceID] {
		return false
	}
	s.inFlight[instanceID] = true
	return true
}

func (s *Scheduler) release(instanceID int) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, instanceID)
}
