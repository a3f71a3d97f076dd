/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depotmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolAcquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repoman_pool_acquires_total",
			Help: "Total number of successful acquisitions",
		},
		[]string{"outcome"},
	)

	poolReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repoman_pool_releases_total",
			Help: "Total number of clones released back to the pool",
		},
	)

	refreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repoman_pool_refresh_failures_total",
			Help: "Total number of acquisitions failed by an unsatisfiable refresh",
		},
	)
)
