// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam_test

import (
	"code.heron.apache.org/tam.git/tam"
	"code.heron.apache.org/tam.git/tam/tamtest"
	"github.com/prometheus/client_golang/prometheus"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ControllerSuite{})

type ControllerSuite struct{}

func newController(client *tamtest.StubClient, runner *tamtest.StubTMRunner) *tam.Controller {
	return tam.NewController(testLogger(), tam.Config{
		TopologyName: "test-topology",
		Role:         "test-role",
		Environ:      "test-env",
		Cluster:      "test-cluster",
	}, client, runner, prometheus.NewRegistry())
}

func (s *ControllerSuite) TestScheduleWorkersThenAllocateRunsTask(c *check.C) {
	client := tamtest.NewStubClient()
	ctrl := newController(client, tamtest.NewStubTMRunner())

	err := ctrl.ScheduleWorkers(tam.PackingPlan{
		Containers: []tam.ContainerPlan{
			{ID: 1, RequiredResource: tam.RequiredResource{Ram: 256 << 20, Cpu: 1}},
		},
		ComponentRamMap: "ram-map",
	})
	c.Assert(err, check.IsNil)

	alloc := client.NewAllocation(256<<20, 1)
	ctrl.OnAllocated(alloc)
	c.Assert(alloc.SubmittedContextID(), check.Equals, "1")

	ctrl.OnContextActive(alloc.Context())
	c.Assert(alloc.Context().Tasks(), check.HasLen, 1)
	c.Assert(alloc.Context().Tasks()[0].ComponentRamMap, check.Equals, "ram-map")
	c.Assert(alloc.Context().Tasks()[0].TopologyName, check.Equals, "test-topology")

	c.Assert(ctrl.WorkerCount(), check.Equals, 1)
	c.Assert(ctrl.Workers(), check.HasLen, 1)
}

func (s *ControllerSuite) TestKillTopologyStopsTMAndDetachesWorkers(c *check.C) {
	client := tamtest.NewStubClient()
	runner := tamtest.NewStubTMRunner()
	ctrl := newController(client, runner)

	c.Assert(ctrl.ScheduleWorkers(tam.PackingPlan{
		Containers: []tam.ContainerPlan{
			{ID: 1, RequiredResource: tam.RequiredResource{Ram: 256 << 20, Cpu: 1}},
		},
	}), check.IsNil)
	alloc := client.NewAllocation(256<<20, 1)
	ctrl.OnAllocated(alloc)

	ctrl.LaunchTM()
	ctrl.KillTopology()

	c.Assert(alloc.Closed(), check.Equals, true)
	c.Assert(ctrl.WorkerCount(), check.Equals, 0)
}

func (s *ControllerSuite) TestRestartWorkerUnknownIDReturnsError(c *check.C) {
	client := tamtest.NewStubClient()
	ctrl := newController(client, tamtest.NewStubTMRunner())

	err := ctrl.RestartWorker(7)
	c.Assert(err, check.FitsTypeOf, &tam.UnknownWorkerError{})
}

func (s *ControllerSuite) TestStartRunsRegisteredHook(c *check.C) {
	client := tamtest.NewStubClient()
	ctrl := newController(client, tamtest.NewStubTMRunner())

	ran := false
	ctrl.SetStartHook(func() error {
		ran = true
		return nil
	})
	c.Assert(ctrl.Start(), check.IsNil)
	c.Assert(ran, check.Equals, true)
}

func (s *ControllerSuite) TestStartWithNoHookIsNoOp(c *check.C) {
	client := tamtest.NewStubClient()
	ctrl := newController(client, tamtest.NewStubTMRunner())
	c.Assert(ctrl.Start(), check.IsNil)
}

func (s *ControllerSuite) TestOnTaskCompletedResubmits(c *check.C) {
	client := tamtest.NewStubClient()
	ctrl := newController(client, tamtest.NewStubTMRunner())

	c.Assert(ctrl.ScheduleWorkers(tam.PackingPlan{
		Containers: []tam.ContainerPlan{
			{ID: 1, RequiredResource: tam.RequiredResource{Ram: 256 << 20, Cpu: 1}},
		},
	}), check.IsNil)
	alloc := client.NewAllocation(256<<20, 1)
	ctrl.OnAllocated(alloc)
	ctrl.OnContextActive(alloc.Context())

	ctrl.OnTaskCompleted("1")

	c.Assert(alloc.Context().Tasks(), check.HasLen, 2)
}
