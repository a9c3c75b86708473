// Package textclean prepares raw message bodies for extraction.
//
// Clean runs a fixed pipeline:
//
//  1. HTML bodies are rewritten so tracking redirects (Outlook safelinks,
//     Google /url?q=) point at their real destination, sanitized down to
//     structural markup, and converted to Markdown.
//  2. Boilerplate lines (unsubscribe, view in browser, legal footers) are
//     removed and Markdown links are flattened to "text (url)".
//  3. Whitespace is collapsed.
//  4. Text longer than the limit keeps its head and tail around a marker.
package textclean

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxChars is the default length limit in characters.
const DefaultMaxChars = 12000

// TruncationMarker separates head and tail of truncated text.
const TruncationMarker = "\n\n[... content truncated due to length ...]\n\n"

// headShare is the fraction of the limit kept from the start of the text.
const headShare = 0.7

var (
	htmlTag = regexp.MustCompile(`(?i)<(html|body|div|p|br|table|span|a|b|strong|em|i|ul|ol|li|h[1-6]|font|td|tr|img|meta|style)(\s[^>]*)?/?>`)

	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)unsubscribe[^\n]*\n?`),
		regexp.MustCompile(`(?i)view (this email )?in (your )?browser[^\n]*\n?`),
		regexp.MustCompile(`(?i)privacy policy[^\n]*\n?`),
		regexp.MustCompile(`(?i)terms of service[^\n]*\n?`),
		regexp.MustCompile(`(?i)(©|\(c\)|copyright) ?\d{4}[^\n]*\n?`),
		regexp.MustCompile(`(?i)click here to[^\n]*\n?`),
	}

	markdownLink = regexp.MustCompile(`!?\[([^\]]*)\]\((https?://[^)\s]+)[^)]*\)`)
	blankLines   = regexp.MustCompile(`\n[ \t\r\f\v]*\n(\s*\n)*`)
	spaces       = regexp.MustCompile(`[ \t]+`)
)

// Cleaner holds the reusable HTML sanitizer and Markdown converter.
// Safe for concurrent use.
type Cleaner struct {
	maxChars int
	policy   *bluemonday.Policy
	md       *converter.Converter
	logger   *slog.Logger
}

// New returns a Cleaner truncating at maxChars characters
// (DefaultMaxChars when <= 0).
func New(maxChars int, logger *slog.Logger) *Cleaner {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		maxChars: maxChars,
		policy:   newPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

// newPolicy allows structural markup and links only. Scripts, styles and
// images are dropped.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowElements(
		"p", "br", "div", "span", "hr",
		"b", "strong", "i", "em", "u", "s",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "blockquote", "pre", "code",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td",
	)
	return p
}

var defaultCleaner = New(DefaultMaxChars, nil)

// Clean applies the default Cleaner.
func Clean(text string) string { return defaultCleaner.Clean(text) }

// Clean returns text ready for extraction.
func (c *Cleaner) Clean(text string) string {
	if LooksLikeHTML(text) {
		text = c.htmlToMarkdown(text)
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = markdownLink.ReplaceAllStringFunc(text, flattenLink)
	for _, pat := range noisePatterns {
		text = pat.ReplaceAllString(text, "")
	}
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = spaces.ReplaceAllString(text, " ")
	text = c.truncate(text)
	return strings.TrimSpace(text)
}

// LooksLikeHTML reports whether text contains common HTML tags.
func LooksLikeHTML(text string) bool {
	return strings.Contains(text, "<") && htmlTag.MatchString(text)
}

func (c *Cleaner) htmlToMarkdown(raw string) string {
	unwrapped, err := UnwrapLinks(raw)
	if err != nil {
		c.logger.Debug("link unwrapping failed", "error", err)
		unwrapped = raw
	}
	sanitized := c.policy.Sanitize(unwrapped)
	out, err := c.md.ConvertString(sanitized)
	if err != nil || strings.TrimSpace(out) == "" {
		c.logger.Warn("markdown conversion failed, using sanitized text", "error", err)
		return bluemonday.StrictPolicy().Sanitize(unwrapped)
	}
	return out
}

// flattenLink rewrites a Markdown link as "text (url)", or just the url when
// the text is empty or repeats it. Images are dropped.
func flattenLink(link string) string {
	if strings.HasPrefix(link, "!") {
		return ""
	}
	m := markdownLink.FindStringSubmatch(link)
	text, url := strings.TrimSpace(m[1]), m[2]
	if text == "" || text == url {
		return url
	}
	return text + " (" + url + ")"
}

func (c *Cleaner) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= c.maxChars {
		return text
	}
	c.logger.Warn("text too long, truncating", "chars", len(runes), "limit", c.maxChars)
	head := int(float64(c.maxChars) * headShare)
	tail := c.maxChars - head
	return string(runes[:head]) + TruncationMarker + string(runes[len(runes)-tail:])
}
