// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// AllocationCoordinator serialises outstanding container requests,
// consumes allocation/failure/context/task events from the resource
// manager, and drives each LogicalWorker's state via the Registry and the
// fitting policy (spec.md §4.4). It also owns plannedWorkers, the
// source-of-truth map described in spec.md §3, since every operation that
// reads it also needs to read or write the Registry atomically with it.
//
// mtx is the single mutex M described in spec.md §5: it guards
// plannedWorkers and every decision that reads or writes the Registry.
// killed is the shared atomic flag also read by TMSupervisor.
type AllocationCoordinator struct {
	logger logrus.FieldLogger
	client ResourceManagerClient
	reg    *Registry
	killed *atomic.Bool

	mtx             sync.Mutex
	plannedWorkers  map[int]ContainerPlan
	componentRamMap string
	taskTemplate    TaskConfig

	metrics *Metrics
}

// NewAllocationCoordinator builds a coordinator around the given resource
// manager client and registry. killed is shared with the owning
// Controller/TMSupervisor so killTopology's effect is visible everywhere at
// once.
func NewAllocationCoordinator(logger logrus.FieldLogger, client ResourceManagerClient, reg *Registry, killed *atomic.Bool, metrics *Metrics) *AllocationCoordinator {
	return &AllocationCoordinator{
		logger:         logger,
		client:         client,
		reg:            reg,
		killed:         killed,
		plannedWorkers: map[int]ContainerPlan{},
		metrics:        metrics,
	}
}

// SetComponentRamMap stores the opaque component-ram-map carried by the
// packing plan, forwarded verbatim on every task submission.
func (c *AllocationCoordinator) SetComponentRamMap(m string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.componentRamMap = m
}

// ComponentRamMap returns the component-ram-map captured by the most recent
// ScheduleWorkers call. A TMRunner implementation needs this, along with
// the rest of the task template, to build the Topology Master's own task
// configuration per spec.md §4.5, §6.
func (c *AllocationCoordinator) ComponentRamMap() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.componentRamMap
}

// TaskTemplate returns the non-plan-specific TaskConfig fields set by
// SetTaskTemplate.
func (c *AllocationCoordinator) TaskTemplate() TaskConfig {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.taskTemplate
}

// SetTaskTemplate stores the non-plan-specific fields (topology name, jar
// path, role, environment, cluster, verbose flag, ...) that are copied into
// every TaskConfig this coordinator submits. ContainerID and
// ComponentRamMap are filled in per-worker and need not be set here.
func (c *AllocationCoordinator) SetTaskTemplate(tmpl TaskConfig) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.taskTemplate = tmpl
}

// ScheduleWorkers admits every container of plan into plannedWorkers, in
// ascending id order, then requests one container per worker (spec.md
// §4.6). It returns *DuplicateAllocationError without mutating anything if
// any id is already planned.
func (c *AllocationCoordinator) ScheduleWorkers(plan PackingPlan) error {
	sorted := append([]ContainerPlan(nil), plan.Containers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c.mtx.Lock()
	for _, cp := range sorted {
		if _, exists := c.plannedWorkers[cp.ID]; exists {
			c.mtx.Unlock()
			return &DuplicateAllocationError{ID: cp.ID}
		}
	}
	for _, cp := range sorted {
		c.plannedWorkers[cp.ID] = cp
	}
	c.mtx.Unlock()

	for _, cp := range sorted {
		if err := c.requestContainer(newLogicalWorker(cp)); err != nil {
			return err
		}
	}
	return nil
}

func (c *AllocationCoordinator) requestContainer(w *LogicalWorker) error {
	req := EvaluatorRequest{
		Count:    1,
		MemoryMB: int(w.RequiredMem.Megabytes()),
		Cores:    w.RequiredCores,
	}
	c.logger.WithFields(logrus.Fields{
		"WorkerID": w.ID,
		"MemoryMB": req.MemoryMB,
		"Cores":    req.Cores,
	}).Info("requesting container for worker")
	if err := c.client.Submit(req); err != nil {
		return &ContainerAllocationError{ID: w.ID, Cause: err}
	}
	if c.metrics != nil {
		c.metrics.ContainersRequested.Inc()
	}
	return nil
}

// awaitingWorkers returns a fresh LogicalWorker for every plannedWorkers id
// that has no bound registry entry yet. Caller must hold mtx.
func (c *AllocationCoordinator) awaitingWorkers() []*LogicalWorker {
	awaiting := make([]*LogicalWorker, 0, len(c.plannedWorkers))
	for id, plan := range c.plannedWorkers {
		if c.reg.LookupByID(id) != nil {
			continue
		}
		awaiting = append(awaiting, newLogicalWorker(plan))
	}
	return awaiting
}

// OnAllocationGranted is the hot path: spec.md §4.4 steps 1-5.
func (c *AllocationCoordinator) OnAllocationGranted(allocation AllocationHandle) {
	c.mtx.Lock()
	awaiting := c.awaitingWorkers()
	if len(awaiting) == 0 {
		c.mtx.Unlock()
		c.logger.WithField("AllocationID", allocation.AllocationID()).
			Info("no workers awaiting allocation, closing")
		allocation.Close()
		return
	}

	granted := Granted{Mem: allocation.GrantedMem(), Cores: allocation.GrantedCores()}
	winner := fit(granted, awaiting, true)
	if winner == nil {
		c.mtx.Unlock()
		c.logger.WithFields(logrus.Fields{
			"AllocationID": allocation.AllocationID(),
			"GrantedMem":   granted.Mem,
			"GrantedCores": granted.Cores,
		}).Warn("no pending worker fits granted allocation, closing")
		if c.metrics != nil {
			c.metrics.FitMisses.Inc()
		}
		allocation.Close()
		return
	}

	c.reg.Assign(winner, allocation)
	winner.State = WorkerContextPending
	c.mtx.Unlock()

	c.logger.WithFields(logrus.Fields{
		"WorkerID":     winner.ID,
		"AllocationID": allocation.AllocationID(),
	}).Info("bound worker to allocation")
	allocation.SubmitContext(strconv.Itoa(winner.ID))
}

// OnAllocationFailed handles a container-level failure: the bound worker is
// detached and a fresh container request is issued for the same logical id
// (spec.md §4.3, "any bound state --AllocationFailed--> REQUESTED").
func (c *AllocationCoordinator) OnAllocationFailed(allocation AllocationHandle) {
	c.mtx.Lock()
	w := c.reg.LookupByAllocationID(allocation.AllocationID())
	if w == nil {
		c.mtx.Unlock()
		c.logger.WithField("AllocationID", allocation.AllocationID()).
			Warn("allocation failed for unknown worker, ignoring")
		return
	}
	wasRunning := w.State == WorkerRunning
	c.reg.Detach(w)
	w.Context = nil
	w.State = WorkerRequested
	c.mtx.Unlock()
	if wasRunning && c.metrics != nil {
		c.metrics.WorkersRunning.Dec()
	}

	c.logger.WithField("WorkerID", w.ID).Warn("container failed, requesting a new one")
	if err := c.requestContainer(w); err != nil {
		c.logger.WithField("WorkerID", w.ID).WithError(err).Error("failed to request replacement container")
	}
}

// OnContextActive handles the in-container bootstrap reporting ready.
// Spec.md §4.3 edge policies: close the context immediately if the
// topology is killed, or if the worker id is unknown.
func (c *AllocationCoordinator) OnContextActive(context ContextHandle) {
	if c.killed.Load() {
		context.Close()
		return
	}
	id, err := strconv.Atoi(context.ContextID())
	if err != nil {
		c.logger.WithField("ContextID", context.ContextID()).Warn("context active with non-numeric id, closing")
		context.Close()
		return
	}
	c.mtx.Lock()
	w := c.reg.LookupByID(id)
	if w == nil {
		c.mtx.Unlock()
		c.logger.WithField("WorkerID", id).Warn("context active for unknown worker, closing")
		context.Close()
		return
	}
	w.Context = context
	w.State = WorkerContextReady
	c.mtx.Unlock()

	c.submitTask(w)
}

func (c *AllocationCoordinator) submitTask(w *LogicalWorker) {
	c.mtx.Lock()
	cfg := c.taskTemplate
	cfg.ComponentRamMap = c.componentRamMap
	cfg.ContainerID = w.ID
	c.mtx.Unlock()

	c.logger.WithField("WorkerID", w.ID).Info("submitting task")
	w.Context.SubmitTask(cfg)
	wasRunning := w.State == WorkerRunning
	w.State = WorkerRunning
	if !wasRunning && c.metrics != nil {
		c.metrics.WorkersRunning.Inc()
	}
}

// OnTaskRunning just records that a submitted task started; no state
// change is implied beyond what OnContextActive already applied.
func (c *AllocationCoordinator) OnTaskRunning(taskID string) {
	c.logger.WithField("TaskID", taskID).Info("task running")
}

// OnTaskFault handles both onTaskFailed and onTaskCompleted, which spec.md
// §4.3 treats identically: resubmit the task on the existing context unless
// the topology has been killed.
func (c *AllocationCoordinator) OnTaskFault(workerIDStr string) {
	if c.killed.Load() {
		c.logger.WithField("WorkerID", workerIDStr).Debug("topology killed, ignoring task fault")
		return
	}
	id, err := strconv.Atoi(workerIDStr)
	if err != nil {
		c.logger.WithField("TaskID", workerIDStr).Warn("task fault with non-numeric id, ignoring")
		return
	}
	c.mtx.Lock()
	w := c.reg.LookupByID(id)
	c.mtx.Unlock()
	if w == nil || w.Context == nil {
		c.logger.WithField("WorkerID", id).Warn("task fault for worker with no active context, ignoring")
		return
	}
	c.logger.WithField("WorkerID", id).Warn("task failed or completed unexpectedly, resubmitting")
	c.submitTask(w)
}

// KillWorkers tears down the containers for the given plan ids: if the
// registry has a bound worker for an id, its allocation is detached and
// closed; the id is always removed from plannedWorkers regardless of
// whether a worker was bound (spec.md §4.6).
func (c *AllocationCoordinator) KillWorkers(ids []int) {
	for _, id := range ids {
		c.mtx.Lock()
		delete(c.plannedWorkers, id)
		w := c.reg.LookupByID(id)
		var allocation AllocationHandle
		wasRunning := false
		if w != nil {
			wasRunning = w.State == WorkerRunning
			allocation = c.reg.Detach(w)
			w.Context = nil
			w.State = WorkerGone
		}
		c.mtx.Unlock()

		if w == nil {
			c.logger.WithField("WorkerID", id).Warn("did not find worker to kill")
			continue
		}
		if wasRunning && c.metrics != nil {
			c.metrics.WorkersRunning.Dec()
		}
		c.logger.WithField("WorkerID", id).Info("killing container for worker")
		allocation.Close()
	}
}

// KillTopology detaches and closes every bound worker's allocation and
// clears plannedWorkers, so that after it returns the registry is empty and
// no outstanding requests remain (spec.md §4.6, §8 invariant 4). The caller
// is responsible for setting the shared killed flag before calling this —
// that ordering is what makes concurrently-arriving context/task events see
// the topology as killed.
func (c *AllocationCoordinator) KillTopology() {
	c.mtx.Lock()
	c.plannedWorkers = map[int]ContainerPlan{}
	c.mtx.Unlock()

	// Snapshot gives a list of ids to visit; each is re-looked-up and
	// detached under mtx below so a worker a concurrent RestartWorker or
	// KillWorkers already detached is simply skipped, not double-detached.
	for _, snapshotted := range c.reg.Snapshot() {
		c.mtx.Lock()
		w := c.reg.LookupByID(snapshotted.ID)
		var allocation AllocationHandle
		wasRunning := false
		if w != nil {
			wasRunning = w.State == WorkerRunning
			allocation = c.reg.Detach(w)
			w.Context = nil
			w.State = WorkerGone
		}
		c.mtx.Unlock()

		if w == nil {
			continue
		}
		if wasRunning && c.metrics != nil {
			c.metrics.WorkersRunning.Dec()
		}
		c.logger.WithField("WorkerID", w.ID).Info("killing container for worker")
		allocation.Close()
	}
}

// RestartWorker recycles id's container: if bound, its allocation is
// detached and closed; if not, its ContainerPlan is looked up (returning
// *UnknownWorkerError if absent from plannedWorkers too). Either way, a
// fresh container request is issued for the id (spec.md §4.6, §9 — the open
// question about cancelling stale outstanding requests is resolved by
// relying on the fitting policy to ignore them, per the source).
func (c *AllocationCoordinator) RestartWorker(id int) error {
	c.mtx.Lock()
	w := c.reg.LookupByID(id)
	var allocation AllocationHandle
	wasRunning := false
	if w != nil {
		wasRunning = w.State == WorkerRunning
		allocation = c.reg.Detach(w)
		w.Context = nil
		w.State = WorkerRequested
	} else {
		plan, ok := c.plannedWorkers[id]
		if !ok {
			c.mtx.Unlock()
			return &UnknownWorkerError{ID: id}
		}
		c.logger.WithField("WorkerID", id).Warn("requesting a new container for worker with no bound allocation")
		w = newLogicalWorker(plan)
	}
	c.mtx.Unlock()
	if wasRunning && c.metrics != nil {
		c.metrics.WorkersRunning.Dec()
	}

	if allocation != nil {
		c.logger.WithField("WorkerID", id).Info("shutting down container to restart worker")
		allocation.Close()
	}
	return c.requestContainer(w)
}

// RestartTopology calls RestartWorker for every worker currently bound in
// the registry (spec.md §4.6).
func (c *AllocationCoordinator) RestartTopology() error {
	for _, w := range c.reg.Snapshot() {
		if err := c.RestartWorker(w.ID); err != nil {
			return err
		}
	}
	return nil
}
