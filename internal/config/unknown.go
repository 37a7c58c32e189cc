package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean" suggestions.
const maxLevenshteinDistance = 3

var knownKeys = map[string]bool{
	// Credentials
	"tenant_id": true, "app_id": true, "app_secret": true,
	// API
	"resource_url": true, "api_version": true, "max_retries": true, "sharepoint_hosts": true,
	// Transfers
	"large_file_threshold": true, "chunk_size": true, "bandwidth_limit": true,
	"parallel_transfers": true, "session_db": true,
	// Logging
	"log_level": true, "log_format": true,
	// Network
	"connect_timeout": true, "data_timeout": true, "idle_timeout": true,
}

// knownKeysList is sorted so ties in edit distance resolve deterministically.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys turns every undecoded TOML key into an error, suggesting
// the closest known key when one is near enough.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		name := strings.SplitN(key.String(), ".", 2)[0]

		if suggestion := closestMatch(name, knownKeysList); suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q (did you mean %q?)", name, suggestion))
			continue
		}

		errs = append(errs, fmt.Errorf("unknown config key %q", name))
	}

	return errors.Join(errs...)
}

// closestMatch returns the known key with the smallest edit distance to
// unknown, or "" when none is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
