package notion

import (
	"regexp"
	"strings"
)

var (
	compactID  = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
	embeddedID = regexp.MustCompile(`[0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12}`)
)

// NormalizeID returns the dashed 8-4-4-4-12 form of a Notion id given with
// or without dashes. Anything that is not 32 hex digits is returned trimmed
// but otherwise unchanged.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	compact := strings.ReplaceAll(id, "-", "")
	if !compactID.MatchString(compact) {
		return id
	}
	compact = strings.ToLower(compact)
	return compact[0:8] + "-" + compact[8:12] + "-" + compact[12:16] + "-" + compact[16:20] + "-" + compact[20:32]
}

// ExtractID pulls a record id out of a Notion URL or returns the normalized
// input when it holds no URL. The query string is ignored because view ids
// (?v=...) have the same shape as record ids.
func ExtractID(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	matches := embeddedID.FindAllString(s, -1)
	if len(matches) == 0 {
		return NormalizeID(s)
	}
	return NormalizeID(matches[len(matches)-1])
}
