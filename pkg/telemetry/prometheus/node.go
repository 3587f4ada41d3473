// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"time"

	"github.com/mackerelio/go-osstat/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	srtAbrNamespace string = "srt_abr"
)

var (
	initialized atomic.Bool

	ServiceOperationCounter *prometheus.CounterVec

	promNodeCPULoad    prometheus.Gauge
	promNodeMemoryLoad prometheus.Gauge
	promNodeLoadAvg    *prometheus.GaugeVec
)

type NodeStats struct {
	UpdatedAt        time.Time
	NumCPUs          uint32
	CPULoad          float32
	MemoryLoad       float32
	LoadAvgLast1Min  float32
	LoadAvgLast5Min  float32
	LoadAvgLast15Min float32
	NumStreams       int32
}

func Init(nodeID string) {
	if initialized.Swap(true) {
		return
	}

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   srtAbrNamespace,
			Subsystem:   "node",
			Name:        "service_operation",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"type", "status", "error_type"},
	)

	promNodeCPULoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "node",
		Name:        "cpu_load",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promNodeMemoryLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "node",
		Name:        "memory_load",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promNodeLoadAvg = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "node",
		Name:        "load_avg",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"window"})

	prometheus.MustRegister(ServiceOperationCounter)
	prometheus.MustRegister(promNodeCPULoad)
	prometheus.MustRegister(promNodeMemoryLoad)
	prometheus.MustRegister(promNodeLoadAvg)

	initStreamStats(nodeID)
}

func RecordServiceOperation(operation string, err error) {
	if !initialized.Load() {
		return
	}

	if err != nil {
		ServiceOperationCounter.WithLabelValues(operation, "error", errorType(err)).Inc()
	} else {
		ServiceOperationCounter.WithLabelValues(operation, "success", "").Inc()
	}
}

func getMemoryStats() (memoryLoad float32, err error) {
	memInfo, err := memory.Get()
	if err != nil {
		return
	}

	if memInfo.Total != 0 {
		memoryLoad = float32(memInfo.Used) / float32(memInfo.Total)
	}
	return
}

// GetUpdatedNodeStats samples host load and publishes it to the node gauges.
func GetUpdatedNodeStats() (*NodeStats, error) {
	loadAvg, err := getLoadAvg()
	if err != nil {
		return nil, err
	}

	cpuLoad, numCPUs, err := getCPUStats()
	if err != nil {
		return nil, err
	}

	memoryLoad, _ := getMemoryStats()
	// On MacOS, get "\"vm_stat\": executable file not found in $PATH" although it is in /usr/bin
	// So, do not error out. Use the information if it is available.

	stats := &NodeStats{
		UpdatedAt:        time.Now(),
		NumCPUs:          numCPUs,
		CPULoad:          cpuLoad,
		MemoryLoad:       memoryLoad,
		LoadAvgLast1Min:  float32(loadAvg.Loadavg1),
		LoadAvgLast5Min:  float32(loadAvg.Loadavg5),
		LoadAvgLast15Min: float32(loadAvg.Loadavg15),
		NumStreams:       streamCurrent.Load(),
	}

	if initialized.Load() {
		promNodeCPULoad.Set(float64(stats.CPULoad))
		promNodeMemoryLoad.Set(float64(stats.MemoryLoad))
		promNodeLoadAvg.WithLabelValues("1m").Set(loadAvg.Loadavg1)
		promNodeLoadAvg.WithLabelValues("5m").Set(loadAvg.Loadavg5)
		promNodeLoadAvg.WithLabelValues("15m").Set(loadAvg.Loadavg15)
	}

	return stats, nil
}
