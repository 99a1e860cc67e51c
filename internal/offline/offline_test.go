// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"testing"
)

// =============================================================================
// LOCALHOST DETECTION TESTS
// =============================================================================

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"localhost:11434", true},
		{"127.0.0.1", true},
		{"127.0.0.1:8000", true},
		{"127.255.0.9", true},
		{"::1", true},
		{"[::1]", true},
		{"[::1]:11434", true},
		{"0:0:0:0:0:0:0:1", true},
		{"t560.local", false},
		{"192.168.1.10", false},
		{"api.x.ai", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsLocalhost(tt.host); got != tt.want {
				t.Errorf("IsLocalhost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

// =============================================================================
// URL VALIDATION TESTS
// =============================================================================

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://api.x.ai/v1", nil},
		{"http://127.0.0.1:11434", nil},
		{"file:///etc/passwd", ErrInvalidURL},
		{"ftp://example.com", ErrInvalidURLScheme},
		{"javascript://example.com", ErrInvalidURLScheme},
		{"not a url", ErrInvalidURL},
		{"", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := ValidateURL(tt.url)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateURL(%q) unexpected error: %v", tt.url, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLocalURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"http://localhost:11434", nil},
		{"http://127.0.0.1:8000/v1", nil},
		{"http://[::1]:11434", nil},
		{"http://t560.local:8000", ErrNonLocalhost},
		{"https://api.x.ai/v1", ErrNonLocalhost},
		{"ftp://localhost", ErrInvalidURLScheme},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateLocalURL(tt.url)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateLocalURL(%q) unexpected error: %v", tt.url, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateLocalURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
