package cmd

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	"github.com/spf13/viper"
)

func TestInfoCommand(t *testing.T) {
	t.Cleanup(viper.Reset)

	// Capture output
	var buf bytes.Buffer
	infoCmd.SetOut(&buf)
	infoCmd.SetErr(&buf)
	t.Cleanup(func() {
		infoCmd.SetOut(nil)
		infoCmd.SetErr(nil)
	})

	if err := infoCmd.RunE(infoCmd, []string{}); err != nil {
		t.Fatalf("info command failed: %v", err)
	}

	output := buf.String()
	expectedSections := []string{
		"sscan System Information",
		"Platform:",
		"Port scan backend:",
		"Configuration File:",
		"Header grading:    " + checker.HeaderTableVersion,
		"Port profile top30: 30 ports",
		"Port profile top100: 100 ports",
		"Probes: ports, tls",
	}
	for _, section := range expectedSections {
		if !strings.Contains(output, section) {
			t.Errorf("Expected output to contain '%s', got:\n%s", section, output)
		}
	}

	expectedPlatform := runtime.GOOS + "/" + runtime.GOARCH
	if !strings.Contains(output, expectedPlatform) {
		t.Errorf("Expected platform '%s' in output, got:\n%s", expectedPlatform, output)
	}
}
