package content

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()

	roomNameRegex = regexp.MustCompile(`^[\p{L}\p{N} ._-]+$`)
)

// Sanitize removes unsafe HTML from user-supplied text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderMarkdown renders markdown to sanitized HTML. Used for completed
// assistant replies.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidRoomName reports whether a room name contains only allowed characters.
func ValidRoomName(name string) bool {
	return name != "" && roomNameRegex.MatchString(name)
}

// Mentions returns the distinct assistant kinds mentioned in raw, in order
// of first appearance. A mention is "@" + kind followed by a word boundary.
func Mentions(raw string, kinds []string) []string {
	type hit struct {
		kind string
		pos  int
	}
	var hits []hit
	for _, kind := range kinds {
		if loc := mentionRegex(kind).FindStringIndex(raw); loc != nil {
			hits = append(hits, hit{kind: kind, pos: loc[0]})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.kind)
	}
	return out
}

// StripMention removes every "@kind" token from raw and collapses the
// surrounding whitespace.
func StripMention(raw, kind string) string {
	stripped := mentionRegex(kind).ReplaceAllString(raw, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

func mentionRegex(kind string) *regexp.Regexp {
	return regexp.MustCompile(`(^|\s)@` + regexp.QuoteMeta(kind) + `\b`)
}
