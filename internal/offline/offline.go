// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidURL is returned when a backend URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid backend URL")

	// ErrInvalidURLScheme is returned when the scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrNonLocalhost is returned when an offline backend is not on loopback.
	ErrNonLocalhost = errors.New("offline backend must be on localhost")
)

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost reports whether host refers to the local machine. It accepts
// "localhost", the whole 127.0.0.0/8 range and every IPv6 loopback form,
// with or without a port or brackets.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateURL checks that rawURL parses, has a host and uses http or https.
// file://, data:// and custom schemes are rejected.
func ValidateURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, ErrInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrInvalidURLScheme
	}
	return parsed, nil
}

// ValidateLocalURL is ValidateURL plus a loopback host requirement.
func ValidateLocalURL(rawURL string) error {
	parsed, err := ValidateURL(rawURL)
	if err != nil {
		return err
	}
	if !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}
