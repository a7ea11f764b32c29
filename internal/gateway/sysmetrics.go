package gateway

import (
	"bufio"
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SystemMetrics is a point-in-time snapshot of process and host load,
// served by /api/metrics and pushed periodically over the WS feed.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	TS          string  `json:"ts"`
}

// metricsEnvelope is the payload of the periodic WS metrics push.
type metricsEnvelope struct {
	Metrics      SystemMetrics `json:"metrics"`
	MarketOpen   bool          `json:"market_open"`
	MarketStatus string        `json:"market_status"`
	WSClients    int           `json:"ws_clients"`
	CheckP50Ms   float64       `json:"check_p50_ms"`
	CheckP95Ms   float64       `json:"check_p95_ms"`
	CheckP99Ms   float64       `json:"check_p99_ms"`
}

func (m *metricsEnvelope) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}

// readFirstLine returns the first line of a file, "" on any error.
func readFirstLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	line, _ := bufio.NewReader(f).ReadString('\n')
	return strings.TrimSpace(line)
}

// cpuTicks is one reading of the aggregate cpu counters: total jiffies
// across all columns, and the idle column alone.
type cpuTicks struct {
	idle uint64
	sum  uint64
}

var lastTicks cpuTicks

// cpuTimes reads the aggregate cpu line of /proc/stat. The fourth numeric
// column is idle time.
func cpuTimes() cpuTicks {
	line := readFirstLine("/proc/stat")
	if !strings.HasPrefix(line, "cpu ") {
		return cpuTicks{}
	}
	var t cpuTicks
	for i, fld := range strings.Fields(line)[1:] {
		v, err := strconv.ParseUint(fld, 10, 64)
		if err != nil {
			return cpuTicks{}
		}
		t.sum += v
		if i == 3 {
			t.idle = v
		}
	}
	return t
}

// loadAverages parses the 1, 5 and 15 minute load from /proc/loadavg.
func loadAverages() (l1, l5, l15 float64) {
	fields := strings.Fields(readFirstLine("/proc/loadavg"))
	if len(fields) < 3 {
		return
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return
}

// memInfo reads MemTotal and MemAvailable from /proc/meminfo, in KB.
func memInfo() (totalKB, availKB uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() && (totalKB == 0 || availKB == 0) {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	return
}

// CollectMetrics gathers process and host resource usage. CPU percent is
// derived from the delta against the previous call, so the first snapshot
// reports zero.
func CollectMetrics(start time.Time) SystemMetrics {
	m := SystemMetrics{
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
	}

	m.CPULoad1, m.CPULoad5, m.CPULoad15 = loadAverages()

	cur := cpuTimes()
	if lastTicks.sum > 0 && cur.sum > lastTicks.sum {
		dSum := float64(cur.sum - lastTicks.sum)
		busy := dSum - float64(cur.idle-lastTicks.idle)
		m.CPUPercent = busy / dSum * 100
	}
	lastTicks = cur

	if totalKB, availKB := memInfo(); totalKB > 0 {
		usedKB := totalKB - availKB
		m.MemTotalMB = float64(totalKB) / 1024
		m.MemUsedMB = float64(usedKB) / 1024
		m.MemPercent = float64(usedKB) / float64(totalKB) * 100
	}

	const mb = 1024 * 1024
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / mb
	m.SysMB = float64(ms.Sys) / mb
	m.GCRuns = ms.NumGC

	return m
}
