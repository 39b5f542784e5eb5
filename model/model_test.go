package model

import (
	"testing"
)

func TestContractStatusRank(t *testing.T) {
	tests := []struct {
		status string
		rank   int
	}{
		{ContractPendingRequest, 0},
		{ContractRequested, 1},
		{ContractSentToSales, 2},
		{ContractSentToClient, 3},
		{ContractSigned, 4},
		{ContractHardboundReceived, 5},
		{"unknown", -1},
		{"", -1},
	}

	for _, tt := range tests {
		if got := ContractStatusRank(tt.status); got != tt.rank {
			t.Errorf("ContractStatusRank(%q) = %d, want %d", tt.status, got, tt.rank)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Client@Example.COM", "client@example.com"},
		{"  spaced@example.com  ", "spaced@example.com"},
		{"already@lower.io", "already@lower.io"},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"rate": 150.0, "services": []any{"web", "seo"}}

	value, err := m.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var out JSONMap
	if err := out.Scan(value); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if out["rate"] != 150.0 {
		t.Errorf("Expected rate 150.0, got %v", out["rate"])
	}
}

func TestJSONMapScanNil(t *testing.T) {
	var m JSONMap
	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if m != nil {
		t.Errorf("Expected nil map, got %v", m)
	}
}

func TestTemplateRequiredFields(t *testing.T) {
	tests := []struct {
		name     string
		config   JSONMap
		expected int
	}{
		{"with fields", JSONMap{"required_fields": []any{"client_name", "total_amount"}}, 2},
		{"no entry", JSONMap{"margin": "narrow"}, 0},
		{"wrong type", JSONMap{"required_fields": "client_name"}, 0},
		{"nil config", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := &Template{Config: tt.config}
			fields := tmpl.RequiredFields()
			if len(fields) != tt.expected {
				t.Errorf("Expected %d fields, got %d", tt.expected, len(fields))
			}
		})
	}
}
