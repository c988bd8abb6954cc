// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Controller is the Topology Application Master's public facade: the
// lifecycle API exposed to the scheduler plugin that embeds it (spec.md
// §4.6, §6). It owns the shared killed flag, wires the Registry into the
// AllocationCoordinator, and supervises the Topology Master.
//
// Per spec.md §9's note on the source's per-process singleton, Controller
// is constructed once by the caller and handed to whatever code needs it —
// no package-level global state is required.
type Controller struct {
	logger      logrus.FieldLogger
	reg         *Registry
	coordinator *AllocationCoordinator
	tmaster     *TMSupervisor
	killed      atomic.Bool
	metrics     *Metrics
	startHook   StartHook
}

// StartHook is invoked once by Start, before the caller issues its first
// ScheduleWorkers call. It stands in for the original's package extraction
// and scheduler bootstrap (spec.md §6's onStart event), which are
// out-of-scope implementations — the TAM only owns the registration point.
type StartHook func() error

// Config carries everything Controller needs beyond the resource manager
// client and TM runner: the static parts of every worker's TaskConfig.
type Config struct {
	TopologyName         string
	TopologyJarPath      string
	TopologyPackageName  string
	HeronCorePackageName string
	Role                 string
	Environ              string
	Cluster              string
	Verbose              bool
}

// NewController builds a Controller around client (the resource manager
// client) and tm (the Topology Master runner). reg is the prometheus
// registry the TAM's metrics are registered against; if nil, a fresh
// prometheus registry is created.
func NewController(logger logrus.FieldLogger, cfg Config, client ResourceManagerClient, tm TMRunner, reg *prometheus.Registry) *Controller {
	metrics := NewMetrics(reg)
	workerRegistry := NewRegistry()
	c := &Controller{
		logger:  logger,
		reg:     workerRegistry,
		metrics: metrics,
	}
	c.coordinator = NewAllocationCoordinator(logger, client, workerRegistry, &c.killed, metrics)
	c.coordinator.SetTaskTemplate(TaskConfig{
		TopologyName:         cfg.TopologyName,
		TopologyJarPath:      cfg.TopologyJarPath,
		TopologyPackageName:  cfg.TopologyPackageName,
		HeronCorePackageName: cfg.HeronCorePackageName,
		Role:                 cfg.Role,
		Environ:              cfg.Environ,
		Cluster:              cfg.Cluster,
		Verbose:              cfg.Verbose,
	})
	c.tmaster = NewTMSupervisor(logger, tm, &c.killed, metrics)
	return c
}

// SetStartHook registers the hook Start invokes. Calling it more than once
// replaces the previously registered hook.
func (c *Controller) SetStartHook(hook StartHook) {
	c.startHook = hook
}

// Start runs the registered start hook, if any. It is the TAM's onStart
// event (spec.md §6): the caller is expected to call it once, before the
// first ScheduleWorkers call, to trigger package extraction and scheduler
// bootstrap in whatever form the embedding binary implements them.
func (c *Controller) Start() error {
	if c.startHook == nil {
		return nil
	}
	c.logger.Info("running start hook")
	return c.startHook()
}

// ScheduleWorkers stores the packing plan's component-ram-map and schedules
// one container request per worker, in ascending id order (spec.md §4.6).
// It returns *DuplicateAllocationError if any id is already planned.
func (c *Controller) ScheduleWorkers(plan PackingPlan) error {
	c.coordinator.SetComponentRamMap(plan.ComponentRamMap)
	return c.coordinator.ScheduleWorkers(plan)
}

// LaunchTM launches the Topology Master. Must be called after
// ScheduleWorkers, since the TM's task configuration needs the component-ram
// map captured there (spec.md §4.5). It is a no-op if the topology has
// already been killed.
func (c *Controller) LaunchTM() {
	c.tmaster.Launch()
}

// KillWorkers tears down the containers backing the given plans and removes
// them from the packing plan the TAM is tracking (spec.md §4.6).
func (c *Controller) KillWorkers(plans []ContainerPlan) {
	ids := make([]int, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
	}
	c.coordinator.KillWorkers(ids)
}

// KillTopology is the universal cancel: it sets the killed flag, kills the
// Topology Master, and detaches/closes every bound worker's allocation
// (spec.md §4.6, §5). It is idempotent.
func (c *Controller) KillTopology() {
	c.killed.Store(true)
	c.tmaster.Kill()
	c.coordinator.KillTopology()
}

// RestartWorker recycles the container for id (spec.md §4.6).
func (c *Controller) RestartWorker(id int) error {
	return c.coordinator.RestartWorker(id)
}

// RestartTopology recycles the container for every worker currently bound
// in the registry (spec.md §4.6).
func (c *Controller) RestartTopology() error {
	return c.coordinator.RestartTopology()
}

// -- Resource manager event handlers (spec.md §6) --
//
// These are the methods a ResourceManagerClient implementation (or its
// adapter) calls as allocation/context/task events arrive. Each call is
// synchronous relative to its own handler; the contract does not require
// (or forbid) any particular dispatch mechanism upstream.

// OnAllocated handles a newly granted container.
func (c *Controller) OnAllocated(allocation AllocationHandle) {
	c.coordinator.OnAllocationGranted(allocation)
}

// OnAllocationFailed handles a previously-allocated container dying.
func (c *Controller) OnAllocationFailed(allocation AllocationHandle) {
	c.coordinator.OnAllocationFailed(allocation)
}

// OnContextActive handles an in-container bootstrap reporting ready.
func (c *Controller) OnContextActive(context ContextHandle) {
	c.coordinator.OnContextActive(context)
}

// OnTaskRunning handles a submitted task starting.
func (c *Controller) OnTaskRunning(taskID string) {
	c.coordinator.OnTaskRunning(taskID)
}

// OnTaskFailed handles a task process dying abnormally.
func (c *Controller) OnTaskFailed(taskID string) {
	c.coordinator.OnTaskFault(taskID)
}

// OnTaskCompleted handles a task process exiting normally — unexpected for
// a long-lived worker or TM task, so it is treated the same as a failure.
func (c *Controller) OnTaskCompleted(taskID string) {
	c.coordinator.OnTaskFault(taskID)
}

// -- Introspection, grounded on the teacher's management API --

// Workers returns a snapshot of every currently bound worker, for the
// read-only HTTP status surface in cmd/tamd.
func (c *Controller) Workers() []*LogicalWorker {
	return c.reg.Snapshot()
}

// WorkerCount returns the number of workers currently bound in the
// registry.
func (c *Controller) WorkerCount() int {
	return c.reg.Len()
}

// ComponentRamMap returns the component-ram-map captured by the most
// recent ScheduleWorkers call, so a TMRunner can build the Topology
// Master's task configuration per spec.md §4.5, §6.
func (c *Controller) ComponentRamMap() string {
	return c.coordinator.ComponentRamMap()
}

// TaskTemplate returns the non-plan-specific TaskConfig fields configured
// via Config, for the same reason as ComponentRamMap.
func (c *Controller) TaskTemplate() TaskConfig {
	return c.coordinator.TaskTemplate()
}
