package channels

import (
	"regexp"
	"strings"

	"github.com/coterie-ai/coterie/internal/store"
)

var mentionRe = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// KnownMember is a resolved mention target.
type KnownMember struct {
	ID   string
	Name string
}

// ParseMentions extracts @name tokens from text, de-duplicated,
// first-seen order preserved.
func ParseMentions(text string) []string {
	matches := mentionRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		key := strings.ToLower(m[1])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// ResolveNameToKnown matches a mention name against known member
// display names, case-insensitive and exact. No fuzzy or partial
// matching: an unrecognized handle must resolve to nothing.
func ResolveNameToKnown(name string, known []store.ChannelMemberData) *KnownMember {
	for _, m := range known {
		if strings.EqualFold(m.MemberName, name) {
			return &KnownMember{ID: m.MemberID, Name: m.MemberName}
		}
	}
	return nil
}
