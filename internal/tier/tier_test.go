// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tier

import (
	"encoding/json"
	"math"
	"testing"
)

func TestTierString(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{Primary, "primary"},
		{Escalation, "escalation"},
		{SpecialistMath, "specialist_math"},
		{OfflineFallback, "offline_fallback"},
		{Tier(42), "Tier(42)"},
	}

	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %q, want %q", int(tt.tier), got, tt.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"primary", Primary, false},
		{"ESCALATION", Escalation, false},
		{"specialist-math", SpecialistMath, false},
		{"offline", OfflineFallback, false},
		{" offline_fallback ", OfflineFallback, false},
		{"heavy", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTier(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTier(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTierJSON(t *testing.T) {
	type wrapper struct {
		Tier Tier `json:"tier"`
	}

	for _, tr := range All() {
		data, err := json.Marshal(wrapper{Tier: tr})
		if err != nil {
			t.Fatalf("marshal %v: %v", tr, err)
		}
		var back wrapper
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back.Tier != tr {
			t.Errorf("round trip %v -> %s -> %v", tr, data, back.Tier)
		}
	}

	if _, err := json.Marshal(wrapper{Tier: Tier(9)}); err == nil {
		t.Error("expected error marshaling invalid tier")
	}
}

func TestQuotaBounded(t *testing.T) {
	for _, tr := range All() {
		want := tr == Escalation
		if got := tr.QuotaBounded(); got != want {
			t.Errorf("%v.QuotaBounded() = %v, want %v", tr, got, want)
		}
	}
	if OfflineFallback.RequiresNetwork() {
		t.Error("offline fallback must not require network")
	}
}

func TestCalculateCostCents(t *testing.T) {
	if got := OfflineFallback.CalculateCostCents(10_000, 10_000); got != 0 {
		t.Errorf("offline cost = %v, want 0", got)
	}

	// 1000 in * 0.3/1K + 1000 out * 1.5/1K
	if got := Primary.CalculateCostCents(1000, 1000); math.Abs(got-1.8) > 1e-9 {
		t.Errorf("primary cost = %v, want 1.8", got)
	}

	if Escalation.CalculateCostCents(1000, 1000) <= Primary.CalculateCostCents(1000, 1000) {
		t.Error("escalation should cost more than primary")
	}
}
