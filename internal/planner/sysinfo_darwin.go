//go:build darwin

package planner

import (
	"os/exec"
	"strconv"
	"strings"
)

// readTotalRAM reads hw.memsize via sysctl.
func readTotalRAM() uint64 {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	return v
}

// readFreeRAM derives free bytes from vm_stat page counts (free +
// inactive + speculative pages are reclaimable).
func readFreeRAM() uint64 {
	out, err := exec.Command("vm_stat").Output()
	if err != nil {
		return 0
	}

	pageSize := uint64(16384)
	var pages uint64
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "page size of") {
			fields := strings.Fields(line)
			for i, f := range fields {
				if f == "of" && i+1 < len(fields) {
					if v, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
						pageSize = v
					}
				}
			}
			continue
		}
		for _, prefix := range []string{"Pages free:", "Pages inactive:", "Pages speculative:"} {
			if strings.HasPrefix(line, prefix) {
				v := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, prefix)), ".")
				if n, err := strconv.ParseUint(v, 10, 64); err == nil {
					pages += n
				}
			}
		}
	}
	return pages * pageSize
}
