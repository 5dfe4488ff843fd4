package util

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

var cleanNamePattern = regexp.MustCompile(`[^a-zA-Z0-9\s\-_.]`)

// CleanName strips every character that is not alphanumeric, whitespace,
// dash, underscore or dot. Used to derive filesystem folder names from model
// names like "qwen3:8b".
func CleanName(text string) string {
	return cleanNamePattern.ReplaceAllString(text, "")
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

// IsValidHost reports whether value looks like a usable backend host:
// a hostname, IPv4 or bracketed IPv6 address with an optional port, with an
// optional http:// or https:// scheme prefix.
func IsValidHost(value string) bool {
	if value == "" {
		return false
	}
	value = strings.TrimPrefix(value, "http://")
	value = strings.TrimPrefix(value, "https://")
	if value == "" {
		return false
	}

	host := value
	if h, port, err := net.SplitHostPort(value); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p >= 65536 {
			return false
		}
		host = h
	} else if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		host = value[1 : len(value)-1]
	}
	if host == "" {
		return false
	}

	if net.ParseIP(host) != nil {
		return true
	}
	return hostnamePattern.MatchString(host)
}
