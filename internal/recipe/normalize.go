package recipe

import (
	"regexp"
	"strings"
)

var (
	validIDRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9._/-]{0,127}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9._/-]+`)
	edgeJunk     = regexp.MustCompile(`^[-./]+|[-./]+$`)
)

// NormalizeID converts a caller-provided agent or recipe id into its
// canonical form: lowercase, at most 128 chars of [a-z0-9._/-], runs of
// other characters collapsed to "-". Blank input stays blank.
func NormalizeID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if lower == "" || validIDRe.MatchString(lower) {
		return lower
	}
	out := invalidChars.ReplaceAllString(lower, "-")
	out = edgeJunk.ReplaceAllString(out, "")
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}
