package config

import (
	"reflect"
	"testing"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty means allow all", "", nil},
		{"single origin", "https://ujian.sekolah.id", []string{"https://ujian.sekolah.id"}},
		{
			"multiple with whitespace",
			"https://a.example.com, https://b.example.com ,https://c.example.com",
			[]string{"https://a.example.com", "https://b.example.com", "https://c.example.com"},
		},
		{"stray commas dropped", ",https://a.example.com,,", []string{"https://a.example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "42")
	if got := getEnvInt("CFG_TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
	if got := getEnvInt("CFG_TEST_MISSING", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d, want 7", got)
	}
	t.Setenv("CFG_TEST_INT", "not-a-number")
	if got := getEnvInt("CFG_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt on garbage = %d, want fallback 7", got)
	}
}
