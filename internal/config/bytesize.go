package config

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits maps accepted suffixes to multipliers, longest suffix first.
var sizeUnits = []struct {
	suffix string
	mult   float64
}{
	{"gib", 1 << 30}, {"mib", 1 << 20}, {"kib", 1 << 10},
	{"gb", 1 << 30}, {"mb", 1 << 20}, {"kb", 1 << 10},
	{"g", 1 << 30}, {"m", 1 << 20}, {"k", 1 << 10},
	{"b", 1},
}

// parseBytes reads human sizes such as "256mb", "1.5g" or "4096". Units are
// binary.
func parseBytes(s string) (int64, error) {
	in := s
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	if s == "" {
		return 0, fmt.Errorf("invalid size %q", in)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", in)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size %q", in)
	}
	return int64(v * mult), nil
}
