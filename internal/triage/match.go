package triage

import "strings"

// Match resolves a free-text model answer to one taxonomy entry. Equality is
// case-insensitive over the whole trimmed name: "billing" matches "Billing"
// but "Billing" does not match "Billing Issues". When names collide the
// first candidate wins.
func Match[T any](answer string, candidates []T, name func(T) string) (T, bool) {
	answer = strings.TrimSpace(answer)
	if answer != "" {
		for _, c := range candidates {
			if strings.EqualFold(strings.TrimSpace(name(c)), answer) {
				return c, true
			}
		}
	}
	var zero T
	return zero, false
}
