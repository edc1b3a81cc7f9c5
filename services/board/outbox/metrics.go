// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "outbox",
		Name:      "pending_ops",
		Help:      "Number of queued operations awaiting server acknowledgment.",
	}, []string{"board_id"})

	metricFailed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "outbox",
		Name:      "failed_ops",
		Help:      "Number of terminally rejected operations retained for inspection.",
	}, []string{"board_id"})
)
