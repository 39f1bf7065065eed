package render

import (
	"testing"
	"time"
)

func TestTargetSelectorPreference(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		want   string
	}{
		{"id wins", Target{ID: "#hero", Classes: []string{".a", ".b"}}, "#hero"},
		{"first class", Target{Classes: []string{".a", ".b"}}, ".a"},
		{"generic fallback", Target{}, "img"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.target.Selector(); got != tc.want {
				t.Fatalf("Selector() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()

	if cfg.NavigateTimeout != 60*time.Second {
		t.Fatalf("NavigateTimeout = %v, want 60s", cfg.NavigateTimeout)
	}
	if cfg.CloseGrace != time.Second {
		t.Fatalf("CloseGrace = %v, want 1s", cfg.CloseGrace)
	}
	if cfg.ViewportHeight != 1080 {
		t.Fatalf("ViewportHeight = %d, want 1080", cfg.ViewportHeight)
	}
	if cfg.Logger == nil {
		t.Fatal("Logger not defaulted")
	}
}
