package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var errNegativeSize = errors.New("must be non-negative")

// sizeUnits maps an upper-cased unit to its byte multiplier. SI units are
// powers of 1000, IEC units powers of 1024.
var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"KB":  1_000,
	"MB":  1_000_000,
	"GB":  1_000_000_000,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
}

// parseSize converts a photo size limit such as "10MB", "1.5 MiB" or "2048"
// to bytes. Empty means no limit and returns 0.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r)
	})

	num, unit := s, ""
	if split >= 0 {
		num, unit = strings.TrimSpace(s[:split]), s[split:]
	}

	mult, ok := sizeUnits[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, unit)
	}

	if num == "" {
		return 0, fmt.Errorf("invalid size %q: missing number", s)
	}

	if unit == "" || mult == 1 {
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}

		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: %w", s, errNegativeSize)
		}

		return n, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if f < 0 {
		return 0, fmt.Errorf("invalid size %q: %w", s, errNegativeSize)
	}

	return int64(f * float64(mult)), nil
}
