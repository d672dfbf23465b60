// Package sysinfo reports local machine uptime and CPU usage for
// GET /printer/info's gateway-local fields (uptime_seconds, cpu,
// hostname), distinct from is_ready/error_detected, which
// internal/surface derives from the host-link's own state rather than
// from the multiplexer. No pack library parses
// /proc, so this stays on the standard library; see DESIGN.md.
package sysinfo

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// Uptime returns the system uptime by parsing /proc/uptime. On a
// platform without /proc (non-Linux), it falls back to the process's
// own elapsed running time.
func Uptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return time.Since(processStart), nil
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// cpuSample is one /proc/stat "cpu" line's jiffy counters.
type cpuSample struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (c cpuSample) total() uint64 {
	return c.user + c.nice + c.system + c.idle + c.iowait + c.irq + c.softirq + c.steal
}

func (c cpuSample) busy() uint64 {
	return c.total() - c.idle - c.iowait
}

func readCPUSample() (cpuSample, bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuSample{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 9 || fields[0] != "cpu" {
			continue
		}
		var s cpuSample
		vals := make([]uint64, 8)
		for i := 0; i < 8; i++ {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return cpuSample{}, false
			}
			vals[i] = v
		}
		s.user, s.nice, s.system, s.idle = vals[0], vals[1], vals[2], vals[3]
		s.iowait, s.irq, s.softirq, s.steal = vals[4], vals[5], vals[6], vals[7]
		return s, true
	}
	return cpuSample{}, false
}

// CPUSampler reports instantaneous CPU utilization (0.0-1.0) as the
// fraction of busy jiffies between two /proc/stat reads a short
// interval apart. A single /proc/stat snapshot alone cannot give a
// rate; the sampler keeps the previous reading to compute one.
type CPUSampler struct {
	prev    cpuSample
	hasPrev bool
}

// NewCPUSampler creates a sampler with no prior reading.
func NewCPUSampler() *CPUSampler {
	return &CPUSampler{}
}

// Sample returns the CPU utilization fraction since the last call to
// Sample, or 0 on the first call (no baseline yet) or on a platform
// without /proc/stat.
func (s *CPUSampler) Sample() float64 {
	cur, ok := readCPUSample()
	if !ok {
		return 0
	}
	if !s.hasPrev {
		s.prev = cur
		s.hasPrev = true
		return 0
	}
	defer func() { s.prev = cur }()

	totalDelta := cur.total() - s.prev.total()
	if totalDelta == 0 {
		return 0
	}
	busyDelta := cur.busy() - s.prev.busy()
	return float64(busyDelta) / float64(totalDelta)
}

// Hostname returns the local hostname, or "" if it cannot be
// determined.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

var processStart = time.Now()
