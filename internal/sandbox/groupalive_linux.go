//go:build linux

package sandbox

import (
	"bytes"
	"os"
	"strconv"
)

// groupAlive reports whether group pgid still has a running member. Killed
// members stay zombies until their parent reaps them, which never happens for
// orphans when PID 1 does not reap, so /proc is checked and zombies count as
// gone.
func groupAlive(pgid int) bool {
	if !groupSignalable(pgid) {
		return false
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return true
	}
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile("/proc/" + e.Name() + "/stat")
		if err != nil {
			continue
		}
		state, pgrp, ok := parseStat(data)
		if ok && pgrp == pgid && state != 'Z' && state != 'X' {
			return true
		}
	}
	return false
}

// parseStat returns the state and process group from a /proc/<pid>/stat
// line. The command name may hold spaces or parentheses, so fields are
// counted from the last ')'.
func parseStat(data []byte) (state byte, pgrp int, ok bool) {
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return 0, 0, false
	}
	fields := bytes.Fields(data[i+1:])
	if len(fields) < 3 || len(fields[0]) != 1 {
		return 0, 0, false
	}
	pgrp, err := strconv.Atoi(string(fields[2]))
	if err != nil {
		return 0, 0, false
	}
	return fields[0][0], pgrp, true
}
