package identity

import (
	"reflect"
	"testing"
)

func TestExtractDigits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511987654321@s.whatsapp.net", "5511987654321"},
		{"+55 (11) 98765-4321", "5511987654321"},
		{"", ""},
		{"abc@g.us", ""},
	}
	for _, tt := range tests {
		if got := ExtractDigits(tt.in); got != tt.want {
			t.Errorf("ExtractDigits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesBySuffix(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"country code difference", "5511987654321@s.whatsapp.net", "11987654321", true},
		{"device suffix ignored", "5511987654321:12@s.whatsapp.net", "5511987654321@s.whatsapp.net", true},
		{"too short to suffix match", "12345", "9912345", false},
		{"short but identical", "12345", "12345@s.whatsapp.net", true},
		{"empty side", "", "5511987654321", false},
		{"no digits", "abc", "abc", false},
		{"different numbers", "5511987654321", "5511987654322", false},
		{"last ten equal", "0015551234567", "4415551234567", true},
		{"seven digits each", "1234567", "1234567@s.whatsapp.net", true},
		{"seven vs longer suffix", "1234567", "991234567", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesBySuffix(tt.a, tt.b); got != tt.want {
				t.Errorf("MatchesBySuffix(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := MatchesBySuffix(tt.b, tt.a); got != tt.want {
				t.Errorf("MatchesBySuffix(%q, %q) = %v, want %v (symmetry)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestMatchesAny(t *testing.T) {
	list := []string{"123", "5511987654321"}
	if !MatchesAny("11987654321@s.whatsapp.net", list) {
		t.Error("expected match against second entry")
	}
	if MatchesAny("11987654329@s.whatsapp.net", list) {
		t.Error("unexpected match")
	}
	if MatchesAny("11987654321", nil) {
		t.Error("nil list must never match")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("5511987654321:3@s.whatsapp.net"); got != "1987654321" {
		t.Errorf("Normalize = %q", got)
	}
	if got := Normalize("12345"); got != "12345" {
		t.Errorf("Normalize short = %q", got)
	}
	if got := Normalize("@s.whatsapp.net"); got != "" {
		t.Errorf("Normalize empty = %q", got)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(" 5511987654321, ,abc,+44 20 ")
	want := []string{"5511987654321", "+44 20"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseList = %#v, want %#v", got, want)
	}
}
