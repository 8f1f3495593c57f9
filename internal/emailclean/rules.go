package emailclean

import "regexp"

type action int

const (
	// actStop discards the matching line and everything after it.
	actStop action = iota
	// actSkip drops the matching line but keeps scanning.
	actSkip
)

type rule struct {
	name string
	re   *regexp.Regexp
	act  action
}

// lineRules are evaluated in order against each trimmed line. The first
// match wins.
var lineRules = []rule{
	{"signature-delimiter", regexp.MustCompile(`^(?:--|__)\s*$`), actStop},
	{"closing-salutation", regexp.MustCompile(`(?i)^(?:best regards|kind regards|warm regards|regards|best wishes|sincerely|sincerely yours|thanks|thank you|many thanks|cheers|best),?\s*$`), actStop},
	{"reply-header-natural", regexp.MustCompile(`(?i)^on\s+[a-z]{3,9},?\s+[a-z]{3,9}\.?\s+\d{1,2},?\s+\d{2,4}.*wrote:`), actStop},
	{"reply-header-slash-date", regexp.MustCompile(`(?i)^on\s+\d{1,2}/\d{1,2}/\d{2,4}.*wrote:`), actStop},
	{"reply-header-iso-date", regexp.MustCompile(`(?i)^on\s+\d{4}-\d{2}-\d{2}.*wrote:`), actStop},
	{"disclaimer", regexp.MustCompile(`(?i)^(?:confidential|disclaimer|this email|the information contained)`), actStop},
	{"mobile-signature", regexp.MustCompile(`(?i)^sent from my (?:iphone|ipad|android|samsung|mobile)`), actStop},
	{"quoted-reply", regexp.MustCompile(`^>`), actSkip},
}

// match returns the first rule matching line, or nil.
func match(line string) *rule {
	for i := range lineRules {
		if lineRules[i].re.MatchString(line) {
			return &lineRules[i]
		}
	}
	return nil
}
