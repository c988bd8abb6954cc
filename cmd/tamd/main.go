// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Command tamd wires a Controller to a read-only HTTP status surface. It
// does not implement container extraction or resource-manager bootstrap:
// those are injected as no-op hooks, since a real resource manager client
// is out of scope (spec.md §1).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"code.heron.apache.org/tam.git/tam"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// noopResourceManagerClient satisfies tam.ResourceManagerClient without
// talking to any real cluster resource manager. A production binary
// replaces this with the scheduler-specific client (spec.md §1, §6).
type noopResourceManagerClient struct {
	logger logrus.FieldLogger
}

func (c noopResourceManagerClient) Submit(req tam.EvaluatorRequest) error {
	c.logger.WithFields(logrus.Fields{
		"MemoryMB": req.MemoryMB,
		"Cores":    req.Cores,
	}).Info("container request submitted (no-op client)")
	return nil
}

// noopTMRunner blocks until its context is cancelled, standing in for a
// real Topology Master executor.
type noopTMRunner struct {
	logger logrus.FieldLogger
}

func (r noopTMRunner) Run(ctx context.Context) error {
	r.logger.Info("topology master runner started (no-op)")
	<-ctx.Done()
	return nil
}

func main() {
	var (
		addr         = flag.String("listen", ":9090", "address to serve the status API on")
		topologyName = flag.String("topology-name", "", "topology name")
		role         = flag.String("role", "", "submitting role")
		environ      = flag.String("environ", "", "environment")
		cluster      = flag.String("cluster", "", "cluster name")
		verbose      = flag.Bool("verbose", false, "verbose task configuration")
	)
	flag.Parse()

	logger := logrus.StandardLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	reg := prometheus.NewRegistry()
	ctrl := tam.NewController(logger, tam.Config{
		TopologyName: *topologyName,
		Role:         *role,
		Environ:      *environ,
		Cluster:      *cluster,
		Verbose:      *verbose,
	}, noopResourceManagerClient{logger: logger}, noopTMRunner{logger: logger}, reg)

	ctrl.SetStartHook(func() error {
		logger.Info("package extraction and scheduler start (no-op)")
		return nil
	})
	if err := ctrl.Start(); err != nil {
		logger.WithError(err).Fatal("start hook failed")
	}

	mux := httprouter.New()
	mux.HandlerFunc("GET", "/tam/v1/workers", apiWorkers(ctrl))
	mux.HandlerFunc("GET", "/tam/v1/plan", apiPlan(ctrl))
	mux.Handler("GET", "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: logger}))

	srv := &http.Server{Addr: *addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		ctrl.KillTopology()
		srv.Shutdown(context.Background())
	}()

	logger.WithField("Addr", *addr).Info("tamd listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("tamd exited")
	}
	os.Exit(0)
}

// apiWorkers reports every currently bound worker, grounded on the
// teacher's dispatcher.apiInstances management endpoint.
func apiWorkers(ctrl *tam.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			Items []workerView `json:"items"`
		}
		for _, lw := range ctrl.Workers() {
			resp.Items = append(resp.Items, workerView{
				ID:            lw.ID,
				State:         lw.State.String(),
				RequiredCores: lw.RequiredCores,
				RequiredMemMB: lw.RequiredMem.Megabytes(),
			})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

type workerView struct {
	ID            int    `json:"id"`
	State         string `json:"state"`
	RequiredCores int    `json:"required_cores"`
	RequiredMemMB int64  `json:"required_mem_mb"`
}

// apiPlan reports the number of workers currently bound in the registry,
// grounded on the teacher's dispatcher.apiContainers management endpoint.
// It does not list the planned containers.
func apiPlan(ctrl *tam.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			WorkerCount int `json:"worker_count"`
		}
		resp.WorkerCount = ctrl.WorkerCount()
		json.NewEncoder(w).Encode(resp)
	}
}
