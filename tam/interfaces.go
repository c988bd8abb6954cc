// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

// This file defines the boundary to the cluster resource manager. Per
// spec.md §1, the client library that actually talks to the resource
// manager is out of scope: only the interfaces it must satisfy live here.
// A fake implementation for tests lives in package tamtest.

// AllocationHandle is the opaque handle the resource manager hands back
// when a container becomes available. It is granted resources that are *at
// least* as large as some outstanding request, with no indication of which
// request it satisfies — that correlation is AllocationCoordinator's job.
type AllocationHandle interface {
	// AllocationID uniquely identifies this physical container.
	AllocationID() string
	// GrantedMem and GrantedCores describe what was actually granted,
	// which may exceed what was requested.
	GrantedMem() Bytes
	GrantedCores() int
	// SubmitContext asks the resource manager to bootstrap this
	// container with the given identifier. The container eventually
	// reports readiness through Controller.OnContextActive, carrying a
	// ContextHandle with the same id.
	SubmitContext(contextID string)
	// Close releases the container back to the resource manager. It is
	// idempotent from the TAM's point of view: Close is only ever
	// called once per handle because the registry clears the handle on
	// detach.
	Close()
}

// ContextHandle is the in-container bootstrap environment a container
// reports once it is ready to run a task.
type ContextHandle interface {
	// ContextID equals the decimal string form of the logical worker
	// id that requested this context.
	ContextID() string
	// SubmitTask submits (or resubmits) the worker/TM executor task
	// into this context.
	SubmitTask(cfg TaskConfig)
	// Close tears down the context without running anything in it.
	// Used when a context arrives for a killed topology or an unknown
	// worker.
	Close()
}

// TaskConfig is the configuration block passed to a worker (or the
// Topology Master) when its task is submitted. The field set here is part
// of the boundary contract with the worker/TM executables (spec.md §6).
type TaskConfig struct {
	TopologyName         string
	TopologyJarPath      string
	TopologyPackageName  string
	HeronCorePackageName string
	Role                 string
	Environ              string
	Cluster              string
	ComponentRamMap      string
	ContainerID          int
	Verbose              bool
}

// EvaluatorRequest is a single container request submitted to the resource
// manager client. Count is always 1: requests are issued one at a time, in
// ascending worker id order, so the resource manager does not coalesce
// requests originating from the same scheduling tick (spec.md §4.4, §5).
type EvaluatorRequest struct {
	Count     int
	MemoryMB  int
	Cores     int
}

// ResourceManagerClient is the subset of the in-cluster resource manager
// client the TAM depends on (spec.md §6). Submit issues one container
// request; the granted containers and their lifecycle events are delivered
// asynchronously through the Controller's event-handling methods
// (OnAllocated, OnAllocationFailed, OnContextActive, OnTaskRunning,
// OnTaskFailed, OnTaskCompleted) rather than callbacks registered here —
// mirroring how the TAM is driven by an external dispatcher, not the other
// way around.
type ResourceManagerClient interface {
	// Submit issues one container request. Implementations are assumed
	// to be reasonably fast and non-blocking-forever; the TAM treats
	// this as the only potentially-erroring step of a container
	// request.
	Submit(req EvaluatorRequest) error
}
