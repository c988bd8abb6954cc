// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&FitSuite{})

type FitSuite struct{}

func worker(id int, mem Bytes, cores int) *LogicalWorker {
	return &LogicalWorker{ID: id, RequiredMem: mem, RequiredCores: cores}
}

func (s *FitSuite) TestExactFitWins(c *check.C) {
	candidates := []*LogicalWorker{worker(1, 512, 1)}
	got := fit(Granted{Mem: 512, Cores: 1}, candidates, false)
	c.Assert(got.ID, check.Equals, 1)
}

func (s *FitSuite) TestNoCandidateFitsReturnsNil(c *check.C) {
	candidates := []*LogicalWorker{worker(1, 1024, 1)}
	got := fit(Granted{Mem: 512, Cores: 1}, candidates, false)
	c.Assert(got, check.IsNil)
}

func (s *FitSuite) TestLargerGrantPicksLargestCandidate(c *check.C) {
	candidates := []*LogicalWorker{
		worker(1, 256, 1),
		worker(2, 512, 1),
		worker(3, 128, 1),
	}
	got := fit(Granted{Mem: 1024, Cores: 4}, candidates, false)
	c.Assert(got.ID, check.Equals, 2)
}

// TestAsymmetricDominance exercises the source's non-total-order tie break:
// a candidate loses to the current best if it is strictly smaller on mem OR
// strictly smaller on cores, so of two incomparable candidates the one
// examined first ends up the winner, depending on iteration order. This pins the literal translation of
// findLargestFittingWorker rather than a "cleaner" invented total order.
func (s *FitSuite) TestAsymmetricDominance(c *check.C) {
	// a has more mem, b has more cores; neither dominates the other.
	a := worker(1, 1024, 1)
	b := worker(2, 512, 2)
	granted := Granted{Mem: 2048, Cores: 4}

	gotAB := fit(granted, []*LogicalWorker{a, b}, false)
	gotBA := fit(granted, []*LogicalWorker{b, a}, false)

	// Whichever is examined first becomes "best" and is never displaced
	// because the other is strictly smaller on one of the two dimensions.
	c.Assert(gotAB.ID, check.Equals, a.ID)
	c.Assert(gotBA.ID, check.Equals, b.ID)
}

func (s *FitSuite) TestIgnoreCpuSkipsCoreCheck(c *check.C) {
	candidates := []*LogicalWorker{worker(1, 512, 8)}
	got := fit(Granted{Mem: 512, Cores: 1}, candidates, true)
	c.Assert(got.ID, check.Equals, 1)
}

func (s *FitSuite) TestEmptyCandidatesReturnsNil(c *check.C) {
	got := fit(Granted{Mem: 1, Cores: 1}, nil, false)
	c.Assert(got, check.IsNil)
}
