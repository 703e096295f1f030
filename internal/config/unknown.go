package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"api":     {"base_url", "request_timeout", "upload_timeout", "user_agent"},
	"storage": {"data_dir"},
	"auth":    {"refresh_interval", "imei"},
	"sync":    {"poll_interval", "shutdown_timeout"},
	"logging": {"log_level", "log_file", "log_format", "sentry_dsn", "sentry_environment"},
	"capture": {"watch_dir", "settle", "max_image_size"},
}

// knownSections is sorted so ties in edit distance resolve the same way
// every run.
var knownSections = slices.Sorted(maps.Keys(knownKeys))

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An
// unknown section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		if len(key) == 0 {
			continue
		}

		section := key[0]

		fields, ok := knownKeys[section]
		if !ok {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownKeyError(section, "", knownSections))
			}

			continue
		}

		if len(key) < 2 {
			continue
		}

		errs = append(errs, unknownKeyError(section, key[1], fields))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes an unknown section (field empty) or an unknown
// key inside a known section, suggesting the closest candidate.
func unknownKeyError(section, field string, candidates []string) error {
	name, typed := section, section
	if field != "" {
		name, typed = section+"."+field, field
	}

	if suggestion := closestMatch(typed, candidates); suggestion != "" {
		return fmt.Errorf("unknown config key %q; did you mean %q?", name, suggestion)
	}

	return fmt.Errorf("unknown config key %q", name)
}

// closestMatch returns the candidate nearest to unknown, or "" when none is
// within maxLevenshteinDistance. Earlier candidates win ties.
func closestMatch(unknown string, known []string) string {
	best, bestDist := "", maxLevenshteinDistance+1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best
}

// levenshtein is the rune edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)

	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}

	for i, ca := range ra {
		diag := row[0]
		row[0] = i + 1

		for j, cb := range rb {
			sub := diag
			if ca != cb {
				sub++
			}

			diag = row[j+1]
			row[j+1] = min(row[j+1]+1, row[j]+1, sub)
		}
	}

	return row[len(rb)]
}
