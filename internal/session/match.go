package session

import "strings"

// MatchPattern reports whether value matches pattern. A pattern ending in
// "*" matches by prefix; anything else must match exactly.
func MatchPattern(pattern, value string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(value, prefix)
	}
	return pattern == value
}

// FirstMatch returns the first pattern in patterns matching value.
func FirstMatch(patterns []string, value string) (string, bool) {
	for _, p := range patterns {
		if MatchPattern(p, value) {
			return p, true
		}
	}
	return "", false
}

// ContainsFold reports whether list contains v, ignoring case.
func ContainsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// Contains reports whether list contains v exactly.
func Contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
