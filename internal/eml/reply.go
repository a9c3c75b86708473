package eml

import (
	"regexp"
	"strings"
)

var (
	quoteHeader    = regexp.MustCompile(`(?i)^\s*On\s.+wrote:\s*$`)
	originalHeader = regexp.MustCompile(`(?i)^\s*-{2,}\s*(Original Message|Forwarded message)\s*-{2,}\s*$`)
	outlookRule    = regexp.MustCompile(`^\s*_{10,}\s*$`)
	signatureStart = regexp.MustCompile(`^(--|-- |__)\s*$`)
)

// StripReply returns the new content of a plain-text reply: quoted lines are
// dropped and everything from the first quote header ("On ... wrote:"),
// forwarded/original message marker or signature delimiter onward is cut.
func StripReply(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		if quoteHeader.MatchString(line) || originalHeader.MatchString(line) ||
			outlookRule.MatchString(line) || signatureStart.MatchString(line) {
			break
		}
		// "On <date>, <name>" wrapped onto two lines before "wrote:".
		if i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(line), "On ") &&
			strings.HasSuffix(strings.TrimSpace(lines[i+1]), "wrote:") {
			break
		}
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
