package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRebateYearsUsesEmbeddedDefault(t *testing.T) {
	years, err := LoadRebateYears("")
	if err != nil {
		t.Fatalf("expected embedded registry to load, got %v", err)
	}

	y, ok := years.Lookup("2023")
	if !ok {
		t.Fatalf("expected 2023 to be configured")
	}
	if y.FRF.ComboKeyField != "_bap_entity_combo_key" {
		t.Fatalf("unexpected combo key field %q", y.FRF.ComboKeyField)
	}
	if _, ok := years.Lookup("1999"); ok {
		t.Fatalf("expected unknown year lookup to fail")
	}
}

func TestLoadRebateYearsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "years.yaml")
	content := `
years:
  - year: "2030"
    frf: {path: f, comboKeyField: k, rebateIdField: r, open: true}
    prf: {path: p, comboKeyField: k, rebateIdField: r}
    crf: {path: c, comboKeyField: k, rebateIdField: r, prefillFields: [a, b]}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	years, err := LoadRebateYears(path)
	if err != nil {
		t.Fatalf("expected file registry to load, got %v", err)
	}
	y, ok := years.Lookup("2030")
	if !ok || !y.FRF.Open || y.PRF.Open {
		t.Fatalf("unexpected 2030 config: %+v", y)
	}
	crf, _ := y.Stage("crf")
	if len(crf.PrefillFields) != 2 {
		t.Fatalf("expected two prefill fields, got %v", crf.PrefillFields)
	}
}

func TestParseRebateYearsRejectsInvalidRegistries(t *testing.T) {
	tests := map[string]string{
		"empty":     `years: []`,
		"duplicate": "years:\n" + yearBlock("2030") + yearBlock("2030"),
		"missing field": `
years:
  - year: "2030"
    frf: {path: f, comboKeyField: k}
    prf: {path: p, comboKeyField: k, rebateIdField: r}
    crf: {path: c, comboKeyField: k, rebateIdField: r}
`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRebateYears([]byte(raw)); err == nil {
				t.Fatalf("expected %s registry to be rejected", name)
			}
		})
	}
}

func yearBlock(year string) string {
	lines := []string{
		`  - year: "` + year + `"`,
		`    frf: {path: f, comboKeyField: k, rebateIdField: r}`,
		`    prf: {path: p, comboKeyField: k, rebateIdField: r}`,
		`    crf: {path: c, comboKeyField: k, rebateIdField: r}`,
	}
	return strings.Join(lines, "\n") + "\n"
}
