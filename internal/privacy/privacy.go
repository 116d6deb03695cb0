// Package privacy anonymizes artwork source URLs and other host details
// before they leave the process in error reports.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`\bhttps?://\S+`)

// ScrubMessage replaces every URL in message with its anonymized form.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizeURL reduces a URL to a stable hash of its scheme, host class,
// port and path shape. Credentials, query strings and the host name itself
// do not contribute, so the same source always maps to the same token
// without revealing it.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	parts := make([]string, 0, 4)
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := u.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if u.Path != "" && u.Path != "/" {
		parts = append(parts, anonymizePath(u.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// categorizeHost keeps only the class of a host: loopback, private or
// public address, or the top level domain of a name.
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback():
			return "localhost"
		case addr.IsPrivate(), addr.IsLinkLocalUnicast(), addr.IsMulticast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if i := strings.LastIndexByte(host, '.'); i > 0 && i < len(host)-1 {
		return "domain-" + host[i+1:]
	}
	return "unknown-host"
}

// anonymizePath hashes each path segment, keeping numbers and image
// extensions recognizable.
func anonymizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "root"
	}

	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if isNumeric(seg) {
			out = append(out, "numeric")
			continue
		}
		hash := sha256.Sum256([]byte(seg))
		token := fmt.Sprintf("seg-%x", hash[:4])
		if ext := imageExt(seg); ext != "" {
			token += ext
		}
		out = append(out, token)
	}
	return strings.Join(out, "/")
}

func imageExt(seg string) string {
	i := strings.LastIndexByte(seg, '.')
	if i < 0 {
		return ""
	}
	switch ext := strings.ToLower(seg[i:]); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return ext
	}
	return ""
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
