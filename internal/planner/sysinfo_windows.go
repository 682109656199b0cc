//go:build windows

package planner

import (
	"os/exec"
	"strconv"
	"strings"
)

// readTotalRAM queries WMI for total physical memory.
func readTotalRAM() uint64 {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		`(Get-CimInstance Win32_ComputerSystem).TotalPhysicalMemory`).Output()
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	return v
}

// readFreeRAM queries WMI for free physical memory (reported in KB).
func readFreeRAM() uint64 {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		`(Get-CimInstance Win32_OperatingSystem).FreePhysicalMemory`).Output()
	if err != nil {
		return 0
	}
	kb, _ := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	return kb * 1024
}
