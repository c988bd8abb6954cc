// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package tam implements the Topology Application Master: a long-lived
// coordinator that runs inside a cluster-resource-manager allocation and
// translates a packing plan into live worker containers.
//
// The TAM procures containers from an external resource manager, fits
// logical workers to the physical allocations the resource manager grants,
// launches and supervises workers and a singleton Topology Master process,
// and tears everything down on command. None of the cluster-specific
// plumbing — the resource manager client, packing plan construction, worker
// and TM executables — lives in this package; see ResourceManagerClient,
// AllocationHandle and ContextHandle for the boundary.
package tam
