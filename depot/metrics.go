/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package depot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repoman_depot_refresh_requests_total",
			Help: "Total number of refresh requests, including no-op cache hits",
		},
	)

	remoteFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repoman_depot_remote_fetches_total",
			Help: "Total number of fetches from external origins by root caches",
		},
	)

	parentFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repoman_depot_parent_fetches_total",
			Help: "Total number of local cache-to-cache copies from parent depots",
		},
	)
)
