package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeSettingsFields(t *testing.T) {
	s := TsvdSettings{}.ComputeSettingsFields()
	if s.NComponents != 1 {
		t.Errorf("expected default n_components 1 but got %d", s.NComponents)
	}
	if s.SvdSolver != SOLVER_FULL {
		t.Errorf("expected default solver %s but got %s", SOLVER_FULL, s.SvdSolver)
	}
	if s.Engine != ENGINE_INPROCESS {
		t.Errorf("expected default engine %s but got %s", ENGINE_INPROCESS, s.Engine)
	}
	if s.Partitions != s.Workers {
		t.Errorf("expected partitions to default to worker count %d but got %d", s.Workers, s.Partitions)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults should validate but got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name      string
		settings  TsvdSettings
		expectErr bool
	}{
		{"defaults", Defaults(), false},
		{"negative components", TsvdSettings{NComponents: -1}.ComputeSettingsFields(), true},
		{"randomized solver", TsvdSettings{SvdSolver: "randomized"}.ComputeSettingsFields(), true},
		{"float16", TsvdSettings{OutputType: "float16"}.ComputeSettingsFields(), true},
		{"kafka without url", TsvdSettings{Engine: ENGINE_KAFKA}.ComputeSettingsFields(), true},
		{"kafka", TsvdSettings{Engine: ENGINE_KAFKA, KafkaURL: "localhost:9092"}.ComputeSettingsFields(), false},
		{"unknown engine", TsvdSettings{Engine: "ray"}.ComputeSettingsFields(), true},
		{"negative ingest window", TsvdSettings{IngestWindow: -5}.ComputeSettingsFields(), true},
		{"negative sample interval", TsvdSettings{SampleInterval: -20}.ComputeSettingsFields(), true},
		{"negative paa columns", TsvdSettings{IngestPaaColumns: -1}.ComputeSettingsFields(), true},
		{"paa columns", TsvdSettings{IngestPaaColumns: 10}.ComputeSettingsFields(), false},
	}
	for _, c := range cases {
		err := c.settings.Validate()
		if c.expectErr && err == nil {
			t.Errorf("%s: expected a validation error", c.name)
		}
		if !c.expectErr && err != nil {
			t.Errorf("%s: unexpected validation error %v", c.name, err)
		}
	}
}

func TestApplyParams(t *testing.T) {
	s, err := Defaults().ApplyParams(Params{
		NewParam(PARAM_N_COMPONENTS, 3),
		NewParam(PARAM_VERBOSE, true),
		NewParam(PARAM_OUTPUT_TYPE, DTYPE_FLOAT32),
	})
	if err != nil {
		t.Fatalf("unexpected error applying params: %v", err)
	}
	if s.NComponents != 3 {
		t.Errorf("expected 3 components but got %d", s.NComponents)
	}
	if s.Verbose != LEVEL_DEBUG {
		t.Errorf("expected verbose=true to mean debug but got %d", s.Verbose)
	}
	if s.OutputType != DTYPE_FLOAT32 {
		t.Errorf("expected output type float32 but got %s", s.OutputType)
	}

	// json numbers arrive as float64
	s, err = Defaults().ApplyParams(Params{NewParam(PARAM_N_COMPONENTS, 2.0)})
	if err != nil || s.NComponents != 2 {
		t.Errorf("expected 2.0 to be accepted as 2 but got %d, %v", s.NComponents, err)
	}
	if _, err = Defaults().ApplyParams(Params{NewParam(PARAM_N_COMPONENTS, 2.5)}); err == nil {
		t.Errorf("expected an error for fractional n_components")
	}
	// an explicit 0 is not replaced by the default
	s, err = Defaults().ApplyParams(Params{NewParam(PARAM_N_COMPONENTS, 0)})
	if err != nil {
		t.Fatalf("unexpected error applying params: %v", err)
	}
	if err = s.Validate(); err == nil {
		t.Errorf("expected n_components=0 to fail validation")
	}
	if _, err = Defaults().ApplyParams(Params{NewParam("n_iter", 7)}); err == nil {
		t.Errorf("expected an error for an unknown hyperparameter")
	}
	if _, err = Defaults().ApplyParams(Params{NewParam(PARAM_SVD_SOLVER, 1)}); err == nil {
		t.Errorf("expected an error for a non-string solver")
	}
}

func TestParamNames(t *testing.T) {
	params := Params{
		NewParam(PARAM_SVD_SOLVER, "full"),
		NewParam(PARAM_N_COMPONENTS, 2),
		NewParam(PARAM_SVD_SOLVER, "full"),
	}
	names := params.Names()
	if len(names) != 2 || names[0] != PARAM_SVD_SOLVER || names[1] != PARAM_N_COMPONENTS {
		t.Errorf("unexpected param names %v", names)
	}

	fromMap := ParamsFromMap(map[string]interface{}{
		PARAM_N_COMPONENTS: 2.0,
		PARAM_VERBOSE:      false,
	}, []string{PARAM_VERBOSE})
	names = fromMap.Names()
	if len(names) != 2 || names[0] != PARAM_VERBOSE || names[1] != PARAM_N_COMPONENTS {
		t.Errorf("unexpected param names from map %v", names)
	}
}

func TestLoadSettings(t *testing.T) {
	tempdir, err := os.MkdirTemp("", "disttsvdTest")
	if err != nil {
		t.Fatalf("failed to create temp dir")
	}
	defer os.RemoveAll(tempdir)

	path := filepath.Join(tempdir, "settings.yaml")
	content := []byte("nComponents: 4\nworkers: 3\nresultsDirectory: /tmp/out\n")
	if err = os.WriteFile(path, content, 0640); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("unexpected error loading settings: %v", err)
	}
	if s.NComponents != 4 || s.Workers != 3 || s.Partitions != 3 {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.Verbose != LEVEL_INFO {
		t.Errorf("expected default verbosity info but got %d", s.Verbose)
	}

	negative := filepath.Join(tempdir, "negative.yaml")
	if err = os.WriteFile(negative, []byte("ingestWindow: -3\n"), 0640); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}
	s, err = LoadSettings(negative)
	if err != nil {
		t.Fatalf("unexpected error loading settings: %v", err)
	}
	if err = s.Validate(); err == nil {
		t.Errorf("expected a negative ingest window from yaml to fail validation")
	}

	if _, err = LoadSettings(filepath.Join(tempdir, "missing.yaml")); err == nil {
		t.Errorf("expected an error for a missing settings file")
	}
}
