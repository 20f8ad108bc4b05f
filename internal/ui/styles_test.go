package ui

import (
	"strings"
	"testing"
)

func TestRender_NoColor(t *testing.T) {
	SetColor(false)
	defer SetColor(ShouldUseColor())

	tests := []struct {
		name   string
		render func(string) string
	}{
		{"accent", RenderAccent},
		{"pass", RenderPass},
		{"warn", RenderWarn},
		{"fail", RenderFail},
		{"muted", RenderMuted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.render("synced")
			if got != "synced" {
				t.Errorf("%s render = %q, want plain text", tt.name, got)
			}
			if strings.Contains(got, "\x1b[") {
				t.Errorf("%s render contains escape codes", tt.name)
			}
		})
	}

	if got := Swatch("#3b82f6"); got != "■" {
		t.Errorf("Swatch() = %q, want plain block", got)
	}
}

func TestShouldUseColor_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should win over CLICOLOR_FORCE")
	}
}
