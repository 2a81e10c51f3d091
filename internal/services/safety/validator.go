// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 2:17:02 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package safety

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"golang.org/x/net/publicsuffix"

	"github.com/ternarybob/imprimo/internal/models"
)

// Result carries the outputs of URL validation
type Result struct {
	NormalizedURL string
	DomainKey     string
}

// ValidationError is a typed rejection. Code maps onto the job error
// taxonomy (INVALID_URL or SSRF_BLOCKED).
type ValidationError struct {
	Code   models.ErrorCode
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func invalid(reason string) *ValidationError {
	return &ValidationError{Code: models.ErrorCodeInvalidURL, Reason: reason}
}

func blocked(reason string) *ValidationError {
	return &ValidationError{Code: models.ErrorCodeSSRFBlocked, Reason: reason}
}

// Private and special-purpose ranges that must never be rendered.
// Checks are textual only: an IP literal in the host is vetted here, but
// hostnames are not resolved at submit time.
var blockedNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fc00::/7",  // unique local, includes fd00:ec2::254
		"fe80::/10", // link local
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad blocklist cidr %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// Hostnames blocked outright regardless of resolution
var blockedHostnames = map[string]bool{
	"metadata.google.internal": true,
}

// Validator vets submitted URLs and derives the normalized form and the
// domain locking key.
type Validator struct {
	logger arbor.ILogger
}

// NewValidator creates a URL safety validator
func NewValidator(logger arbor.ILogger) *Validator {
	return &Validator{logger: logger}
}

// Validate parses and vets a raw URL. On acceptance it returns the
// normalized URL used for dedup and the registrable domain used as the
// locking key.
func (v *Validator) Validate(raw string) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, invalid("URL must be a non-empty string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalid(fmt.Sprintf("URL is not parseable: %v", err))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, invalid("URL must use http or https scheme")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, invalid("URL must have a host")
	}

	if err := checkHost(host); err != nil {
		return nil, err
	}

	return &Result{
		NormalizedURL: normalize(u, scheme, host),
		DomainKey:     DomainKey(host),
	}, nil
}

// checkHost applies the SSRF blocklist to a lowercased hostname
func checkHost(host string) error {
	if blockedHostnames[host] {
		return blocked("access to metadata endpoints is blocked")
	}

	for _, label := range strings.Split(host, ".") {
		if label == "localhost" {
			return blocked("access to localhost is blocked")
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return blocked(fmt.Sprintf("access to %s is blocked", network))
			}
		}
	}

	return nil
}

// normalize rebuilds the URL in canonical form: lowercase scheme and host,
// default ports stripped, percent-encoding canonicalized, fragment removed,
// query preserved verbatim, path case untouched.
func normalize(u *url.URL, scheme, host string) string {
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	hostport := host
	if port != "" {
		hostport = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		// bare IPv6 literal keeps its brackets
		hostport = "[" + host + "]"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(hostport)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// DomainKey extracts the registrable domain (eTLD+1) for the host using the
// public suffix list. IP literals and unlisted hosts fall back to the full
// lowercased host, which still serializes correctly per target.
func DomainKey(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
