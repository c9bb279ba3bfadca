// Package blocking generates the candidate-narrowing keys for a normalized
// name. Entities sharing at least one key form the fuzzy candidate pool,
// which keeps scoring from touching every entity of a type.
package blocking

import (
	"sort"
	"strings"
)

// Key prefixes keep the three generator families disjoint in the graph.
const (
	PrefixKey = "pfx:"
	TokenKey  = "tok:"
	BigramKey = "bg:"
)

// Keys returns up to three deduplicated keys in insertion order:
// pfx:<first 3 chars>, tok:<two smallest tokens joined by |>, and
// bg:<first 2 chars>. Blank input yields no keys.
func Keys(normalized string) []string {
	s := strings.TrimSpace(normalized)
	if s == "" {
		return nil
	}

	var keys []string
	seen := make(map[string]struct{}, 3)
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	add(PrefixKey + firstRunes(s, 3))

	tokens := strings.Fields(s)
	sort.Strings(tokens)
	if len(tokens) == 1 {
		add(TokenKey + tokens[0])
	} else {
		add(TokenKey + tokens[0] + "|" + tokens[1])
	}

	add(BigramKey + firstRunes(s, 2))

	return keys
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
