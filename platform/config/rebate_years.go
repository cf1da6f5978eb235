package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rebate_years.yaml
var defaultRebateYears []byte

// StageFormConfig describes the Formio form backing one stage of one rebate year.
type StageFormConfig struct {
	Path          string   `yaml:"path"`
	ComboKeyField string   `yaml:"comboKeyField"`
	RebateIDField string   `yaml:"rebateIdField"`
	Open          bool     `yaml:"open"`
	PrefillFields []string `yaml:"prefillFields"`
}

// RebateYearConfig groups the three stage forms of a rebate year.
type RebateYearConfig struct {
	Year string          `yaml:"year"`
	FRF  StageFormConfig `yaml:"frf"`
	PRF  StageFormConfig `yaml:"prf"`
	CRF  StageFormConfig `yaml:"crf"`
}

// Stage returns the form config for "frf", "prf" or "crf".
func (y RebateYearConfig) Stage(stage string) (StageFormConfig, bool) {
	switch stage {
	case "frf":
		return y.FRF, true
	case "prf":
		return y.PRF, true
	case "crf":
		return y.CRF, true
	default:
		return StageFormConfig{}, false
	}
}

// RebateYears is the registry of configured rebate years.
type RebateYears struct {
	Years []RebateYearConfig `yaml:"years"`
}

// Lookup finds the config for year.
func (r *RebateYears) Lookup(year string) (RebateYearConfig, bool) {
	for _, y := range r.Years {
		if y.Year == year {
			return y, true
		}
	}
	return RebateYearConfig{}, false
}

// LoadRebateYears reads the registry from path, or the embedded default when path is empty.
func LoadRebateYears(path string) (*RebateYears, error) {
	raw := defaultRebateYears
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rebate years file: %w", err)
		}
		raw = data
	}
	return ParseRebateYears(raw)
}

// ParseRebateYears decodes and validates a YAML registry.
func ParseRebateYears(raw []byte) (*RebateYears, error) {
	var years RebateYears
	if err := yaml.Unmarshal(raw, &years); err != nil {
		return nil, fmt.Errorf("parse rebate years: %w", err)
	}
	if len(years.Years) == 0 {
		return nil, fmt.Errorf("rebate years: at least one year is required")
	}

	seen := make(map[string]struct{}, len(years.Years))
	for _, y := range years.Years {
		if strings.TrimSpace(y.Year) == "" {
			return nil, fmt.Errorf("rebate years: year is required")
		}
		if _, dup := seen[y.Year]; dup {
			return nil, fmt.Errorf("rebate years: duplicate year %s", y.Year)
		}
		seen[y.Year] = struct{}{}

		for _, stage := range []string{"frf", "prf", "crf"} {
			form, _ := y.Stage(stage)
			if form.Path == "" || form.ComboKeyField == "" || form.RebateIDField == "" {
				return nil, fmt.Errorf("rebate years: %s %s needs path, comboKeyField and rebateIdField", y.Year, stage)
			}
		}
	}

	return &years, nil
}
