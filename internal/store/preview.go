package store

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// TruncatePreview flattens a message body to a single line and caps it
// at PreviewChars display cells for channel listings.
func TruncatePreview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	return runewidth.Truncate(content, PreviewChars, "…")
}
