package batch

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// FreeMemSize derives a batch size from available system memory divided
// by an estimated per-operation cost in MB. Falls back to a CPU-count
// heuristic on platforms without /proc. Always at least 1.
//
// No library in our dependency set exposes memory stats, so this reads
// /proc/meminfo directly; the value is a throttling hint, not a limit.
func FreeMemSize(perProcMemMB int) int {
	if perProcMemMB < 1 {
		perProcMemMB = 1
	}

	availMB := procMemAvailableMB()
	if availMB <= 0 {
		return CPUSize(2)
	}

	size := availMB / perProcMemMB
	if size < 1 {
		size = 1
	}
	return size
}

// CPUSize returns a fraction of the logical CPU count: NumCPU/divisor,
// floored at 1.
func CPUSize(divisor int) int {
	if divisor < 1 {
		divisor = 1
	}
	size := runtime.NumCPU() / divisor
	if size < 1 {
		size = 1
	}
	return size
}

// Clamp bounds size to [1, max]; max <= 0 means no upper bound.
func Clamp(size, max int) int {
	if size < 1 {
		size = 1
	}
	if max > 0 && size > max {
		size = max
	}
	return size
}

func procMemAvailableMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}
