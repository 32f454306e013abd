// Package mailtext normalizes provider message bodies and addresses into the
// plain-text forms stored on CRM records.
package mailtext

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes tags, unescapes the common entities and collapses
// whitespace so an HTML body can be used as a plain-text preview.
func StripHTML(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	return strings.Join(strings.Fields(text), " ")
}

// Truncate cuts s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// ExtractEmail pulls the bare address out of a "Name <addr>" header value,
// lowercased and trimmed.
func ExtractEmail(header string) string {
	addr := header
	if start := strings.Index(header, "<"); start >= 0 {
		if end := strings.Index(header[start:], ">"); end > 0 {
			addr = header[start+1 : start+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// ParseAddressList splits a comma-separated recipient header into bare
// addresses, dropping empty entries.
func ParseAddressList(header string) []string {
	if header == "" {
		return nil
	}
	var addrs []string
	for _, part := range strings.Split(header, ",") {
		if addr := ExtractEmail(part); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Domain returns the part of an address after the last '@', lowercased.
func Domain(addr string) string {
	if idx := strings.LastIndex(addr, "@"); idx >= 0 {
		return strings.ToLower(addr[idx+1:])
	}
	return ""
}
