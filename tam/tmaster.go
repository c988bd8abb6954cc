// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// maxTMRetries is the starting value of TMSupervisor's retry counter,
// mirroring the CountDownLatch(3) in the source TMaster inner class. The
// counter is decremented each time the Topology Master exits and the TM is
// relaunched only while it stays above zero, so the TM runs at most 3 times
// in all (the first launch plus 2 relaunches).
const maxTMRetries = 3

// TMRunner runs the Topology Master executor. It is expected to block until
// ctx is cancelled or the process it launches exits on its own; either way
// Run returning means the TM is no longer running. The TM executable itself
// is out of scope (spec.md §1) — TMRunner is the seam a caller plugs a real
// implementation into.
type TMRunner interface {
	Run(ctx context.Context) error
}

// TMSupervisor runs the Topology Master as a bounded-retry task on a
// dedicated goroutine, standing in for the source's single-thread executor
// (spec.md §4.5). The Topology Master shares the TAM's own container: it is
// never requested through the resource manager.
type TMSupervisor struct {
	logger  logrus.FieldLogger
	runner  TMRunner
	killed  *atomic.Bool
	metrics *Metrics

	mtx         sync.Mutex
	cancel      context.CancelFunc
	retriesLeft int
	launched    bool
}

// NewTMSupervisor builds a supervisor for runner. killed is shared with the
// owning Controller/AllocationCoordinator.
func NewTMSupervisor(logger logrus.FieldLogger, runner TMRunner, killed *atomic.Bool, metrics *Metrics) *TMSupervisor {
	return &TMSupervisor{
		logger:  logger,
		runner:  runner,
		killed:  killed,
		metrics: metrics,
	}
}

// Launch starts the Topology Master. It is a no-op if the topology has
// already been killed (spec.md §8 invariant 5) or if Launch has already
// been called once, including after the TM has exhausted its retries.
func (s *TMSupervisor) Launch() {
	s.mtx.Lock()
	if s.killed.Load() || s.launched {
		s.mtx.Unlock()
		return
	}
	s.launched = true
	s.retriesLeft = maxTMRetries
	s.mtx.Unlock()

	s.logger.Info("launching Topology Master")
	s.launchOnce()
}

// launchOnce submits one run attempt and, when it returns, either retries
// or gives up, per the contract in spec.md §4.5.
func (s *TMSupervisor) launchOnce() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mtx.Lock()
	s.cancel = cancel
	s.mtx.Unlock()

	go func() {
		err := s.runner.Run(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Topology Master exited with error")
		} else {
			s.logger.Info("Topology Master exited")
		}

		if s.killed.Load() {
			s.logger.Info("topology is killed, not relaunching Topology Master")
			return
		}

		s.mtx.Lock()
		s.retriesLeft--
		remaining := s.retriesLeft
		s.mtx.Unlock()

		if remaining <= 0 {
			s.logger.Warn("Topology Master exhausted retries, leaving it down")
			return
		}
		s.logger.WithField("RetriesLeft", remaining).Warn("relaunching Topology Master")
		if s.metrics != nil {
			s.metrics.TMRestarts.Inc()
		}
		s.launchOnce()
	}()
}

// Kill cancels the in-flight Topology Master task and prevents further
// relaunches. It is idempotent: a second call finds nothing in flight to
// cancel (spec.md §8, idempotence).
func (s *TMSupervisor) Kill() {
	s.killed.Store(true)
	s.mtx.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mtx.Unlock()

	if cancel != nil {
		s.logger.Info("killing Topology Master")
		cancel()
	}
}
