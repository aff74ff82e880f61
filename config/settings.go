package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/imzaci/imzala/stamp"
)

// EnvPrefix prefixes environment overrides, e.g. IMZALA_SIGNATURE_PLACEMENT.
const EnvPrefix = "IMZALA"

// LoadSignatureSettings reads the "signature" object of a settings JSON
// file. A missing file yields the defaults. Environment variables override
// file values. A legacy "margin_mm" key applies to both margins when the
// per-axis keys are absent.
func LoadSignatureSettings(path string) (stamp.PlacementSpec, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return stamp.PlacementSpec{}, &ConfigError{Field: "signature", Message: "cannot parse " + path, Err: err}
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return stamp.PlacementSpec{}, fmt.Errorf("failed to stat settings file: %w", err)
		}
	}
	return settingsFrom(v)
}

func settingsFrom(v *viper.Viper) (stamp.PlacementSpec, error) {
	spec := stamp.DefaultSpec()

	str := func(key string, dst *string) {
		if k := "signature." + key; v.IsSet(k) {
			*dst = v.GetString(k)
		}
	}
	num := func(key string, dst *float64) bool {
		if k := "signature." + key; v.IsSet(k) {
			*dst = v.GetFloat64(k)
			return true
		}
		return false
	}

	str("placement", &spec.Placement)
	str("font_family", &spec.FontFamily)
	str("font_style", &spec.FontStyle)
	num("width_mm", &spec.FontSizeMM)
	num("logo_width_mm", &spec.LogoWidthMM)

	var legacy float64
	hasLegacy := num("margin_mm", &legacy)
	if !num("margin_x_mm", &spec.MarginXMM) && hasLegacy {
		spec.MarginXMM = legacy
	}
	if !num("margin_y_mm", &spec.MarginYMM) && hasLegacy {
		spec.MarginYMM = legacy
	}

	if err := spec.Validate(); err != nil {
		return stamp.PlacementSpec{}, &ConfigError{Field: "signature", Message: err.Error(), Err: err}
	}
	return spec, nil
}
