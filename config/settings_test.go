package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/imzaci/imzala/stamp"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSignatureSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
		want func(*stamp.PlacementSpec)
	}{
		{
			name: "full",
			body: `{"signature": {"width_mm": 4, "logo_width_mm": 18, "margin_x_mm": 7, "margin_y_mm": -2,
				"placement": "bottom-left", "font_family": "DejaVu", "font_style": "Regular"}}`,
			want: func(s *stamp.PlacementSpec) {
				*s = stamp.PlacementSpec{Placement: "bottom-left", MarginXMM: 7, MarginYMM: -2,
					FontSizeMM: 4, LogoWidthMM: 18, FontFamily: "DejaVu", FontStyle: "Regular"}
			},
		},
		{
			name: "legacy margin",
			body: `{"signature": {"margin_mm": 9}}`,
			want: func(s *stamp.PlacementSpec) { s.MarginXMM, s.MarginYMM = 9, 9 },
		},
		{
			name: "per-axis margin wins over legacy",
			body: `{"signature": {"margin_mm": 9, "margin_y_mm": 3}}`,
			want: func(s *stamp.PlacementSpec) { s.MarginXMM, s.MarginYMM = 9, 3 },
		},
		{
			name: "other sections ignored",
			body: `{"pkcs11": {"slot": 1}}`,
			want: func(*stamp.PlacementSpec) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadSignatureSettings(writeSettings(t, tt.body))
			if err != nil {
				t.Fatalf("LoadSignatureSettings: %v", err)
			}
			want := stamp.DefaultSpec()
			tt.want(&want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadSignatureSettingsMissingFile(t *testing.T) {
	got, err := LoadSignatureSettings(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(stamp.DefaultSpec(), got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSignatureSettingsEnvOverride(t *testing.T) {
	t.Setenv("IMZALA_SIGNATURE_PLACEMENT", "center")
	t.Setenv("IMZALA_SIGNATURE_MARGIN_X_MM", "1.5")
	got, err := LoadSignatureSettings(writeSettings(t, `{"signature": {"placement": "top-left"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Placement != stamp.Center || got.MarginXMM != 1.5 {
		t.Errorf("env override not applied: %+v", got)
	}
}

func TestLoadSignatureSettingsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"syntax":        `{"signature": `,
		"negative font": `{"signature": {"width_mm": -1}}`,
		"unknown code":  `{"signature": {"placement": "middle"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSignatureSettings(writeSettings(t, body))
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}
