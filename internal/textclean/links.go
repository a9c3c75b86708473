package textclean

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// UnwrapLinks rewrites tracking-redirect hrefs in an HTML document to their
// destination and removes script, style and img elements.
func UnwrapLinks(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	walk(doc)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Img, atom.Head:
				n.RemoveChild(c)
				c = next
				continue
			case atom.A:
				for i, a := range c.Attr {
					if a.Key == "href" {
						c.Attr[i].Val = Destination(a.Val)
					}
				}
			}
		}
		walk(c)
		c = next
	}
}

// Destination returns the real target of a tracking redirect, or href
// unchanged when it is not one.
func Destination(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Host == "" {
		return href
	}
	host := strings.ToLower(u.Hostname())
	q := u.Query()
	switch {
	case strings.HasSuffix(host, "safelinks.protection.outlook.com"):
		if dest := q.Get("url"); dest != "" {
			return dest
		}
	case (host == "google.com" || strings.HasSuffix(host, ".google.com")) && u.Path == "/url":
		if dest := q.Get("q"); dest != "" {
			return dest
		}
		if dest := q.Get("url"); dest != "" {
			return dest
		}
	}
	return href
}
