package commands

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bryanchriswhite/ScreenBridge/internal/bridge"
)

func TestParseConfigValue(t *testing.T) {
	cases := []struct {
		key, value string
		want       interface{}
		wantErr    bool
	}{
		{"server_port", "9090", 9090, false},
		{"server_port", "ninety", nil, true},
		{"permission.prompt", "false", false, false},
		{"log_pretty", "maybe", nil, true},
		{"capture.timeout", "10s", "10s", false},
		{"capture.backend", "portal", "portal", false},
		{"preview.fps", "5", 5, false},
		{"virtual_display.width", "1920", nil, true},
	}
	for _, tc := range cases {
		got, err := parseConfigValue(tc.key, tc.value)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseConfigValue(%q, %q) error = %v, wantErr %v", tc.key, tc.value, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("parseConfigValue(%q, %q) = %v, want %v", tc.key, tc.value, got, tc.want)
		}
	}
}

func TestCodeErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("capture: %w", &codeError{code: bridge.PermissionDenied})
	var ce *codeError
	if !errors.As(err, &ce) || -int(ce.code) != 2 {
		t.Fatalf("expected exit status 2 from %v", err)
	}
	if ce.Error() != "permission denied" {
		t.Fatalf("Error() = %q", ce.Error())
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"probe": false, "capture": false, "windows": false, "config": false, "serve": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %q not registered", name)
		}
	}
}
