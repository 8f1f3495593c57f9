// Package emailclean turns raw inbound support emails into plain-text
// ticket content by stripping signatures, quoted reply chains and
// boilerplate. It is a best-effort heuristic, not a parser.
package emailclean

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	pCloseRe      = regexp.MustCompile(`(?i)</p>`)
	multiNewline  = regexp.MustCompile(`\n{3,}`)
	multiSpace    = regexp.MustCompile(`[ \t]{2,}`)

	// stripTags removes every remaining tag after the structural ones
	// above have been rewritten to newlines.
	stripTags = bluemonday.StrictPolicy()
)

// Clean converts a raw email body into plain-text ticket content.
func Clean(content string, isHTML bool) string {
	if content == "" {
		return ""
	}
	if isHTML {
		content = htmlToText(content)
	}

	var kept []string
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if r := match(strings.TrimLeft(trimmed, " \t")); r != nil {
			if r.act == actStop {
				break
			}
			continue
		}
		if len(kept) == 0 && strings.TrimSpace(trimmed) == "" {
			continue
		}
		kept = append(kept, trimmed)
	}

	out := strings.Join(kept, "\n")
	out = multiNewline.ReplaceAllString(out, "\n\n")
	out = multiSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func htmlToText(s string) string {
	s = styleBlockRe.ReplaceAllString(s, "")
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = brRe.ReplaceAllString(s, "\n")
	s = pCloseRe.ReplaceAllString(s, "\n\n")
	s = stripTags.Sanitize(s)
	return html.UnescapeString(s)
}
