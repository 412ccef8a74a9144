package desktop

import (
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessNamer resolves a pid to a process name, returning "" when unknown
type ProcessNamer func(pid int) string

// LookupProcessName resolves pid through the process table
func LookupProcessName(pid int) string {
	if pid <= 0 {
		return ""
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

// ResolveProcessNames fills in missing process names using namer
func ResolveProcessNames(windows []WindowInfo, namer ProcessNamer) {
	if namer == nil {
		return
	}
	cache := make(map[int]string)
	for i := range windows {
		if windows[i].ProcessName != "" || windows[i].PID <= 0 {
			continue
		}
		name, ok := cache[windows[i].PID]
		if !ok {
			name = namer(windows[i].PID)
			cache[windows[i].PID] = name
		}
		windows[i].ProcessName = name
	}
}
