// Package eml reads RFC 5322 email files into sync resources.
package eml

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/roach88/crmsync/internal/model"
)

// Address is a decoded mailbox.
type Address struct {
	Name  string
	Email string
}

// Document is a parsed email.
type Document struct {
	Subject   string
	From      []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	Date      time.Time // zero when the Date header is absent or unparseable
	MessageID string
	PlainBody string
	HTMLBody  string

	raw []byte
}

var headerDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// ParseFile parses the email at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse reads one email message.
func Parse(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read headers: %w", err)
	}

	doc := &Document{
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		From:      parseAddresses(msg.Header.Get("From")),
		To:        parseAddresses(msg.Header.Get("To")),
		Cc:        parseAddresses(msg.Header.Get("Cc")),
		Bcc:       parseAddresses(msg.Header.Get("Bcc")),
		MessageID: strings.TrimSpace(msg.Header.Get("Message-ID")),
		raw:       raw,
	}
	if v := msg.Header.Get("Date"); v != "" {
		if d, err := mail.ParseDate(v); err == nil {
			doc.Date = d
		} else {
			slog.Debug("unparseable date header", "date", v, "error", err)
		}
	}

	b := &bodies{}
	if err := b.walk(msg.Header, msg.Body, 0); err != nil {
		return nil, err
	}
	doc.PlainBody = b.plain
	doc.HTMLBody = b.html
	return doc, nil
}

// Text returns the body handed to extraction: the HTML part when present,
// otherwise the plain part with quoted replies and signatures removed.
func (d *Document) Text() string {
	if strings.TrimSpace(d.HTMLBody) != "" {
		return d.HTMLBody
	}
	return StripReply(d.PlainBody)
}

// ID returns the Message-ID, or a content hash of the raw message when the
// header is missing.
func (d *Document) ID() string {
	if d.MessageID != "" {
		return d.MessageID
	}
	return model.ContentID(d.raw)
}

// Resource converts the document into a sync resource. The sender comes
// first, followed by To, Cc and Bcc recipients; repeated addresses keep
// their first role.
func (d *Document) Resource() model.Resource {
	res := model.Resource{
		ID:          d.ID(),
		Subject:     d.Subject,
		Text:        d.Text(),
		ContextDate: d.Date,
	}
	seen := map[string]bool{}
	add := func(addrs []Address, role model.Role) {
		for _, a := range addrs {
			key := model.NormalizeEmail(a.Email)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			res.Participants = append(res.Participants, model.Participant{Name: a.Name, Email: a.Email, Role: role})
		}
	}
	if len(d.From) > 0 {
		add(d.From[:1], model.RoleSender)
	}
	add(d.To, model.RoleTo)
	add(d.Cc, model.RoleCc)
	add(d.Bcc, model.RoleBcc)
	return res
}

func decodeHeader(v string) string {
	out, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(out)
}

// parseAddresses parses an address list, dropping entries that do not parse
// rather than failing the whole header.
func parseAddresses(v string) []Address {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parser := mail.AddressParser{WordDecoder: headerDecoder}
	list, err := parser.ParseList(v)
	if err != nil {
		list = nil
		for _, part := range strings.Split(v, ",") {
			if a, err := parser.Parse(part); err == nil {
				list = append(list, a)
			}
		}
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: strings.TrimSpace(a.Name), Email: strings.TrimSpace(a.Address)})
	}
	return out
}
