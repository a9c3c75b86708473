package eml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// maxDepth bounds multipart nesting.
const maxDepth = 10

// header is satisfied by mail.Header and textproto.MIMEHeader.
type header interface {
	Get(key string) string
}

// bodies collects the last text/plain and text/html leaves of a message.
type bodies struct {
	plain string
	html  string
}

func (b *bodies) walk(h header, body io.Reader, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("multipart nesting deeper than %d", maxDepth)
	}
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("%s without boundary", mediaType)
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read %s part: %w", mediaType, err)
			}
			if err := b.walk(part.Header, part, depth+1); err != nil {
				return err
			}
		}
	}

	if disp, _, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil && disp == "attachment" {
		return nil
	}
	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}

	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		slog.Debug("skipping undecodable part", "type", mediaType, "error", err)
		return nil
	}
	text := decodeCharset(params["charset"], data)
	if mediaType == "text/html" {
		b.html = text
	} else {
		b.plain = text
	}
	return nil
}

func transferDecoder(encodingName string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encodingName)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// decodeCharset converts data to UTF-8. Unknown charsets are passed through.
func decodeCharset(charset string, data []byte) string {
	enc := lookupCharset(charset)
	if enc == nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(out)
}

func lookupCharset(charset string) encoding.Encoding {
	charset = strings.ToLower(strings.TrimSpace(charset))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		slog.Debug("unknown charset", "charset", charset)
		return nil
	}
	return enc
}

// charsetReader decodes RFC 2047 encoded words in non-UTF-8 charsets.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc := lookupCharset(charset)
	if enc == nil {
		if c := strings.ToLower(charset); c == "utf-8" || c == "us-ascii" {
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
