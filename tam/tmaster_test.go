// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam_test

import (
	"errors"
	"sync/atomic"
	"time"

	"code.heron.apache.org/tam.git/tam"
	"code.heron.apache.org/tam.git/tam/tamtest"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&TMSupervisorSuite{})

type TMSupervisorSuite struct{}

func (s *TMSupervisorSuite) TestLaunchIsNoOpWhenKilled(c *check.C) {
	runner := tamtest.NewStubTMRunner()
	var killed atomic.Bool
	killed.Store(true)
	sup := tam.NewTMSupervisor(testLogger(), runner, &killed, nil)

	sup.Launch()
	time.Sleep(10 * time.Millisecond)

	c.Assert(runner.Launches(), check.Equals, 0)
}

func (s *TMSupervisorSuite) TestLaunchIsIdempotent(c *check.C) {
	runner := tamtest.NewStubTMRunner()
	var killed atomic.Bool
	sup := tam.NewTMSupervisor(testLogger(), runner, &killed, nil)

	sup.Launch()
	sup.Launch()
	time.Sleep(10 * time.Millisecond)

	c.Assert(runner.Launches(), check.Equals, 1)
	sup.Kill()
}

func (s *TMSupervisorSuite) TestExhaustsRetriesThenStaysDown(c *check.C) {
	runner := tamtest.NewStubTMRunner()
	runner.ExitImmediately(errors.New("boom"))
	var killed atomic.Bool
	sup := tam.NewTMSupervisor(testLogger(), runner, &killed, nil)

	sup.Launch()
	// maxTMRetries starts at 3 and is decremented before the check, so it
	// reaches 0 (giving up) after exactly 3 total attempts.
	deadline := time.Now().Add(2 * time.Second)
	for runner.Launches() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	c.Assert(runner.Launches(), check.Equals, 3)
}

func (s *TMSupervisorSuite) TestKillIsIdempotent(c *check.C) {
	runner := tamtest.NewStubTMRunner()
	var killed atomic.Bool
	sup := tam.NewTMSupervisor(testLogger(), runner, &killed, nil)

	sup.Launch()
	sup.Kill()
	sup.Kill()
}
