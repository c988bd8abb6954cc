// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package tamtest provides a fake ResourceManagerClient and fake
// allocation/context handles for testing package tam, grounded on the
// stub cloud driver in the dispatchcloud test package this project is
// modelled on.
package tamtest

import (
	"context"
	"fmt"
	"sync"

	"code.heron.apache.org/tam.git/tam"
)

// StubClient is a fake tam.ResourceManagerClient. Every Submit call is
// recorded; NewAllocation separately builds a StubAllocation the test can
// hand to the coordinator to simulate a resource manager grant.
type StubClient struct {
	mtx       sync.Mutex
	requests  []tam.EvaluatorRequest
	nextID    int
	failNext  bool
	allocated []*StubAllocation
}

// NewStubClient returns an empty StubClient.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// Submit implements tam.ResourceManagerClient.
func (c *StubClient) Submit(req tam.EvaluatorRequest) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.failNext {
		c.failNext = false
		return fmt.Errorf("stub client: induced submit failure")
	}
	c.requests = append(c.requests, req)
	return nil
}

// FailNextSubmit makes the next Submit call return an error instead of
// recording the request.
func (c *StubClient) FailNextSubmit() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.failNext = true
}

// Requests returns every request recorded so far, in submission order.
func (c *StubClient) Requests() []tam.EvaluatorRequest {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make([]tam.EvaluatorRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// NewAllocation builds a not-yet-granted StubAllocation with the given
// granted resources. The caller passes it to Controller.OnAllocated (or
// AllocationCoordinator.OnAllocationGranted) to simulate the resource
// manager granting a container.
func (c *StubClient) NewAllocation(mem tam.Bytes, cores int) *StubAllocation {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.nextID++
	a := &StubAllocation{
		id:    fmt.Sprintf("stub-alloc-%d", c.nextID),
		mem:   mem,
		cores: cores,
	}
	c.allocated = append(c.allocated, a)
	return a
}

// Allocations returns every StubAllocation this client has handed out.
func (c *StubClient) Allocations() []*StubAllocation {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make([]*StubAllocation, len(c.allocated))
	copy(out, c.allocated)
	return out
}

// StubAllocation is a fake tam.AllocationHandle. It records whether it was
// closed and captures the context id it was asked to submit, if any.
type StubAllocation struct {
	mtx       sync.Mutex
	id        string
	mem       tam.Bytes
	cores     int
	closed    bool
	context   *StubContext
	submitted string
}

func (a *StubAllocation) AllocationID() string { return a.id }
func (a *StubAllocation) GrantedMem() tam.Bytes { return a.mem }
func (a *StubAllocation) GrantedCores() int     { return a.cores }

// SubmitContext implements tam.AllocationHandle by synthesising a
// StubContext, retrievable afterwards via Context.
func (a *StubAllocation) SubmitContext(contextID string) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.submitted = contextID
	a.context = &StubContext{id: contextID}
}

// Close implements tam.AllocationHandle.
func (a *StubAllocation) Close() {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.closed {
		panic("tamtest: StubAllocation closed twice")
	}
	a.closed = true
}

// Closed reports whether Close has been called.
func (a *StubAllocation) Closed() bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.closed
}

// SubmittedContextID returns the id passed to the most recent SubmitContext
// call, or "" if none occurred yet.
func (a *StubAllocation) SubmittedContextID() string {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.submitted
}

// Context returns the StubContext synthesised by SubmitContext, or nil if
// SubmitContext has not been called yet.
func (a *StubAllocation) Context() *StubContext {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.context
}

// StubContext is a fake tam.ContextHandle.
type StubContext struct {
	mtx    sync.Mutex
	id     string
	closed bool
	tasks  []tam.TaskConfig
}

func (ctx *StubContext) ContextID() string { return ctx.id }

// SubmitTask implements tam.ContextHandle.
func (ctx *StubContext) SubmitTask(cfg tam.TaskConfig) {
	ctx.mtx.Lock()
	defer ctx.mtx.Unlock()
	ctx.tasks = append(ctx.tasks, cfg)
}

// Close implements tam.ContextHandle.
func (ctx *StubContext) Close() {
	ctx.mtx.Lock()
	defer ctx.mtx.Unlock()
	ctx.closed = true
}

// Closed reports whether Close has been called.
func (ctx *StubContext) Closed() bool {
	ctx.mtx.Lock()
	defer ctx.mtx.Unlock()
	return ctx.closed
}

// Tasks returns every TaskConfig submitted so far, in submission order.
func (ctx *StubContext) Tasks() []tam.TaskConfig {
	ctx.mtx.Lock()
	defer ctx.mtx.Unlock()
	out := make([]tam.TaskConfig, len(ctx.tasks))
	copy(out, ctx.tasks)
	return out
}

// StubTMRunner is a fake tam.TMRunner: Run blocks until ctx is cancelled,
// unless ExitImmediately has been called, in which case it returns right
// away with the given error. Launches counts how many times Run has run.
type StubTMRunner struct {
	mtx      sync.Mutex
	launches int
	exitWith error
	exitFast bool
}

// NewStubTMRunner returns a StubTMRunner that blocks on context
// cancellation, i.e. behaves like a healthy long-lived Topology Master.
func NewStubTMRunner() *StubTMRunner {
	return &StubTMRunner{}
}

// ExitImmediately makes every future Run call return err right away instead
// of blocking, simulating a Topology Master that crashes on launch.
func (r *StubTMRunner) ExitImmediately(err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.exitFast = true
	r.exitWith = err
}

// Run implements tam.TMRunner.
func (r *StubTMRunner) Run(ctx context.Context) error {
	r.mtx.Lock()
	r.launches++
	fast, err := r.exitFast, r.exitWith
	r.mtx.Unlock()
	if fast {
		return err
	}
	<-ctx.Done()
	return nil
}

// Launches returns the number of times Run has been called.
func (r *StubTMRunner) Launches() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.launches
}
