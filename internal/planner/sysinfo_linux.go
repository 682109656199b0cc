//go:build linux

package planner

import (
	"os"
	"strconv"
	"strings"
)

// readTotalRAM reads MemTotal from /proc/meminfo. Returns 0 on failure.
func readTotalRAM() uint64 {
	return meminfoBytes("MemTotal:")
}

// readFreeRAM prefers MemAvailable over MemFree — it accounts for
// reclaimable page cache.
func readFreeRAM() uint64 {
	if v := meminfoBytes("MemAvailable:"); v > 0 {
		return v
	}
	return meminfoBytes("MemFree:")
}

func meminfoBytes(field string) uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, field) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
