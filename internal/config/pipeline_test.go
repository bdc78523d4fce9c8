package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyConfigServesDefaults(t *testing.T) {
	cfg := EmptyPipelineConfig()

	if got := cfg.GetFuzzyThreshold(); got != 0.85 {
		t.Errorf("GetFuzzyThreshold() = %v, want 0.85", got)
	}
	if got := cfg.GetContamination(); got != 0.05 {
		t.Errorf("GetContamination() = %v, want 0.05", got)
	}
	if got := cfg.GetClusterCount(); got != 4 {
		t.Errorf("GetClusterCount() = %v, want 4", got)
	}
	if got := cfg.GetForecastWindow(); got != 7 {
		t.Errorf("GetForecastWindow() = %v, want 7", got)
	}
	if got := cfg.GetAnomalySeed(); got != 42 {
		t.Errorf("GetAnomalySeed() = %v, want 42", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"contamination": 0.1, "cluster_count": 6}`)

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}

	if got := cfg.GetContamination(); got != 0.1 {
		t.Errorf("GetContamination() = %v, want 0.1", got)
	}
	if got := cfg.GetClusterCount(); got != 6 {
		t.Errorf("GetClusterCount() = %v, want 6", got)
	}
	// Unset fields still serve defaults
	if got := cfg.GetForecastDamping(); got != 0.5 {
		t.Errorf("GetForecastDamping() = %v, want default 0.5", got)
	}
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"contamination too high", `{"contamination": 0.9}`},
		{"zero cluster count", `{"cluster_count": 1}`},
		{"negative window", `{"forecast_window": -1}`},
		{"damping above one", `{"forecast_damping": 1.5}`},
		{"threshold above one", `{"fuzzy_threshold": 1.2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.json)
			if _, err := LoadPipelineConfig(path); err == nil {
				t.Errorf("expected error for %s", tc.json)
			}
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPipelineConfig(path); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestNilConfigServesDefaults(t *testing.T) {
	var cfg *PipelineConfig
	if got := cfg.GetForecastBandPct(); got != 0.20 {
		t.Errorf("nil config GetForecastBandPct() = %v, want 0.20", got)
	}
}
