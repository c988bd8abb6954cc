// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&WorkerSuite{})

type WorkerSuite struct{}

func (s *WorkerSuite) TestNewLogicalWorkerStartsRequested(c *check.C) {
	w := newLogicalWorker(ContainerPlan{
		ID:               5,
		RequiredResource: RequiredResource{Ram: 2 << 20, Cpu: 1.5},
	})
	c.Assert(w.ID, check.Equals, 5)
	c.Assert(w.State, check.Equals, WorkerRequested)
	c.Assert(w.RequiredCores, check.Equals, 2)
	c.Assert(w.RequiredMem, check.Equals, Bytes(2<<20))
}

func (s *WorkerSuite) TestRequiredCoresRoundsUp(c *check.C) {
	c.Assert(RequiredResource{Cpu: 0.3}.RequiredCores(), check.Equals, 1)
	c.Assert(RequiredResource{Cpu: 1.0}.RequiredCores(), check.Equals, 1)
	c.Assert(RequiredResource{Cpu: 1.2}.RequiredCores(), check.Equals, 2)
	c.Assert(RequiredResource{Cpu: 0}.RequiredCores(), check.Equals, 0)
}

func (s *WorkerSuite) TestStateStringsAreHumanReadable(c *check.C) {
	c.Assert(WorkerPending.String(), check.Equals, "PENDING")
	c.Assert(WorkerRunning.String(), check.Equals, "RUNNING")
	c.Assert(WorkerState(99).String(), check.Equals, "UNKNOWN")
}

func (s *WorkerSuite) TestBytesMegabytesRoundsUp(c *check.C) {
	c.Assert(Bytes(1).Megabytes(), check.Equals, int64(1))
	c.Assert(Bytes(1<<20).Megabytes(), check.Equals, int64(1))
	c.Assert(Bytes(1<<20+1).Megabytes(), check.Equals, int64(2))
}
