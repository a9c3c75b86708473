package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// publicDomains are mailbox providers whose domain says nothing about the
// sender's employer. They never become company records.
var publicDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"yahoo.com":      true,
	"icloud.com":     true,
	"me.com":         true,
	"proton.me":      true,
	"protonmail.com": true,
}

// normalizeKey applies NFC normalization, trims and lower-cases s.
// Natural keys are compared byte-for-byte, so visually identical inputs must
// produce identical keys.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// NormalizeEmail returns the canonical form of an email natural key.
func NormalizeEmail(email string) string {
	email = strings.Trim(normalizeKey(email), "<>")
	return email
}

// NormalizeDomain returns the canonical form of a company natural key.
// Accepts bare domains or website URLs ("https://www.Example.com/about").
func NormalizeDomain(domain string) string {
	d := normalizeKey(domain)
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// EmailDomain returns the normalized domain part of an email, or "".
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return NormalizeDomain(email[at+1:])
}

// RegistrableDomain reduces a host to its registrable domain
// ("mail.cyberdyne.ai" → "cyberdyne.ai"). Hosts the public suffix list cannot
// reduce are returned normalized but otherwise unchanged.
func RegistrableDomain(host string) string {
	host = NormalizeDomain(host)
	if host == "" {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// IsPublicDomain reports whether domain belongs to a consumer mailbox provider.
func IsPublicDomain(domain string) bool {
	return publicDomains[NormalizeDomain(domain)]
}

// ContentID derives a stable resource id from raw content when the input has
// no identifier of its own. Text is NFC-normalized before hashing.
func ContentID(raw []byte) string {
	h := sha256.Sum256(norm.NFC.Bytes(raw))
	return "sha256:" + hex.EncodeToString(h[:])
}
