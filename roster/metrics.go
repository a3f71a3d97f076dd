/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package roster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var staleReclaims = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "repoman_roster_stale_reclaims_total",
		Help: "Total number of abandoned reservations force-freed by the roster",
	},
)
