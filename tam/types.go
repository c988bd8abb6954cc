// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import "fmt"

// Bytes is an amount of memory, always expressed in bytes. It exists so
// call sites never have to guess whether a given int64 means bytes, KB or
// MB.
type Bytes int64

// Megabytes rounds up to the nearest whole megabyte. Cluster resource
// managers generally quote memory in MB, so this is the unit
// AllocationCoordinator uses when submitting container requests.
func (b Bytes) Megabytes() int64 {
	const mb = 1 << 20
	return (int64(b) + mb - 1) / mb
}

func (b Bytes) String() string {
	return fmt.Sprintf("%dMB", b.Megabytes())
}

// RequiredResource is the CPU/RAM a single container needs, as carried by a
// ContainerPlan. Cpu is fractional: a container asking for 1.5 cores still
// requires ceil(1.5)=2 whole cores once translated into a container
// request, because the resource manager only grants whole cores.
type RequiredResource struct {
	Ram Bytes
	Cpu float64
}

// RequiredCores is ceil(Cpu), the integer core count a LogicalWorker built
// from this resource will carry.
func (r RequiredResource) RequiredCores() int {
	cores := int(r.Cpu)
	if float64(cores) < r.Cpu {
		cores++
	}
	return cores
}

// ContainerPlan is one entry of a PackingPlan: a logical worker id and the
// resources it requires. Id 0 is reserved for the Topology Master and is
// never part of a PackingPlan.
type ContainerPlan struct {
	ID               int
	RequiredResource RequiredResource
}

// PackingPlan is the declarative description of every worker container a
// topology needs. It is produced upstream (packing is out of scope for the
// TAM) and consumed wholesale by Controller.ScheduleWorkers.
type PackingPlan struct {
	Containers []ContainerPlan

	// ComponentRamMap is an opaque string, forwarded verbatim to every
	// worker's task configuration. The TAM never interprets it.
	ComponentRamMap string
}

// TMasterWorkerID is the logical worker id reserved for the Topology
// Master. It is never present in a PackingPlan and never goes through
// AllocationCoordinator; TMSupervisor runs it directly on the TAM's own
// container.
const TMasterWorkerID = 0
