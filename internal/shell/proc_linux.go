//go:build linux

package shell

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
)

// readProcMemory is best-effort; ok is false when /proc is unreadable.
func readProcMemory() (m procMemory, ok bool) {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return m, false
	}
	fields := bytes.Fields(b)
	if len(fields) < 2 {
		return m, false
	}
	pages, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return m, false
	}
	m.RSS = pages * uint64(os.Getpagesize())

	// The leveldb cache shows up as File, the RAM front and gob buffers as Anon.
	f, err := os.Open("/proc/self/smaps_rollup")
	if err != nil {
		return m, true
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, rest, found := strings.Cut(sc.Text(), ":")
		if !found {
			continue
		}
		var dst *uint64
		switch key {
		case "Anonymous":
			dst = &m.Anon
		case "Rss":
			// statm already covers it
		case "Pss_File":
			dst = &m.File
		case "Pss_Shmem":
			dst = &m.Shmem
		}
		if dst == nil {
			continue
		}
		kbFields := strings.Fields(rest)
		if len(kbFields) == 0 {
			continue
		}
		if n, err := strconv.ParseUint(kbFields[0], 10, 64); err == nil {
			*dst = n * 1024
		}
	}
	m.detailed = sc.Err() == nil
	return m, true
}
