// Package settings contains all the parameters for the distributed truncated svd.
package settings

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

const (
	SOLVER_FULL = "full"

	ENGINE_INPROCESS = "inprocess"
	ENGINE_KAFKA     = "kafka"

	DTYPE_FLOAT64 = "float64"
	DTYPE_FLOAT32 = "float32"

	TASKS_TOPIC   = "tsvd_tasks"
	RESULTS_TOPIC = "tsvd_results"
)

// Hyperparameter names accepted as keyword arguments.
const (
	PARAM_N_COMPONENTS = "n_components"
	PARAM_SVD_SOLVER   = "svd_solver"
	PARAM_VERBOSE      = "verbose"
	PARAM_OUTPUT_TYPE  = "output_type"
)

type TsvdSettings struct {
	// The number of top singular vectors / values to keep (aka k).
	// Must be <= the number of columns in the input.
	NComponents int `yaml:"nComponents" json:"n_components"`

	// Only the full eigen solver is supported.
	SvdSolver string `yaml:"svdSolver" json:"svd_solver"`

	// Logging level, see lib/logging.
	Verbose int `yaml:"verbose" json:"verbose"`

	// Precision of model outputs.
	OutputType string `yaml:"outputType" json:"output_type"`

	// Which engine runs the partition tasks.
	Engine string `yaml:"engine" json:"engine"`

	// Number of in-process workers. Ignored by the kafka engine.
	Workers int `yaml:"workers" json:"workers"`

	// Number of partitions to split local input into.
	Partitions int `yaml:"partitions" json:"partitions"`

	KafkaURL     string `yaml:"kafkaURL" json:"kafka_url"`
	TasksTopic   string `yaml:"tasksTopic" json:"tasks_topic"`
	ResultsTopic string `yaml:"resultsTopic" json:"results_topic"`

	// How long to wait for kafka workers, in seconds.
	TaskTimeout int `yaml:"taskTimeout" json:"task_timeout"`

	ResultsDirectory string `yaml:"resultsDirectory" json:"results_directory"`

	// Number of rows per row group in Parquet.
	// This is an int64 because the parquet library takes that type.
	MaxRowsPerRowGroup int64 `yaml:"maxRowsPerRowGroup" json:"max_rows_per_row_group"`

	ModelStorePath string `yaml:"modelStorePath" json:"model_store_path"`

	// Shared secret for HS256 bearer tokens. Empty disables auth.
	JWTSecret string `yaml:"jwtSecret" json:"-"`

	// Number of samples kept per ingested timeseries.
	IngestWindow int `yaml:"ingestWindow" json:"ingest_window"`

	// The expected time between ingested samples, in seconds.
	// Longer gaps are filled with the last value.
	SampleInterval int `yaml:"sampleInterval" json:"sample_interval"`

	// Normalize ingested timeseries and reduce them to this many columns
	// with PAA before fitting. 0 keeps all IngestWindow columns.
	IngestNormalize  bool `yaml:"ingestNormalize" json:"ingest_normalize"`
	IngestPaaColumns int  `yaml:"ingestPaaColumns" json:"ingest_paa_columns"`

	LogFile string `yaml:"logFile" json:"log_file"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() TsvdSettings {
	return TsvdSettings{Verbose: LEVEL_INFO}.ComputeSettingsFields()
}

func (s TsvdSettings) ComputeSettingsFields() TsvdSettings {
	if s.NComponents == 0 {
		s.NComponents = 1
	}
	if s.SvdSolver == "" {
		s.SvdSolver = SOLVER_FULL
	}
	if s.OutputType == "" {
		s.OutputType = DTYPE_FLOAT64
	}
	if s.Engine == "" {
		s.Engine = ENGINE_INPROCESS
	}
	if s.Workers == 0 {
		s.Workers = 2
	}
	if s.Partitions == 0 {
		s.Partitions = s.Workers
	}
	if s.TasksTopic == "" {
		s.TasksTopic = TASKS_TOPIC
	}
	if s.ResultsTopic == "" {
		s.ResultsTopic = RESULTS_TOPIC
	}
	if s.TaskTimeout == 0 {
		s.TaskTimeout = 300
	}
	if s.MaxRowsPerRowGroup == 0 {
		s.MaxRowsPerRowGroup = 100000
	}
	if s.IngestWindow == 0 {
		s.IngestWindow = 60
	}
	if s.SampleInterval == 0 {
		s.SampleInterval = 20
	}
	return s
}

func (s TsvdSettings) Validate() error {
	if s.NComponents < 1 {
		return fmt.Errorf("n_components must be at least 1 but is %d", s.NComponents)
	}
	if s.SvdSolver != SOLVER_FULL {
		return fmt.Errorf("unsupported svd_solver %q, only %q is available", s.SvdSolver, SOLVER_FULL)
	}
	if s.OutputType != DTYPE_FLOAT64 && s.OutputType != DTYPE_FLOAT32 {
		return fmt.Errorf("unsupported output_type %q", s.OutputType)
	}
	if s.IngestWindow < 1 {
		return fmt.Errorf("ingest window must be at least 1 but is %d", s.IngestWindow)
	}
	if s.SampleInterval < 1 {
		return fmt.Errorf("sample interval must be at least 1 second but is %d", s.SampleInterval)
	}
	if s.IngestPaaColumns < 0 {
		return fmt.Errorf("ingest paa columns must not be negative but is %d", s.IngestPaaColumns)
	}
	switch s.Engine {
	case ENGINE_INPROCESS:
		if s.Workers < 1 {
			return fmt.Errorf("need at least one worker but got %d", s.Workers)
		}
	case ENGINE_KAFKA:
		if s.KafkaURL == "" {
			return fmt.Errorf("the kafka engine needs a kafka url")
		}
	default:
		return fmt.Errorf("unsupported engine %q", s.Engine)
	}
	return nil
}

// LoadSettings reads a yaml file over the defaults and applies environment overrides.
// An empty path skips the file.
func LoadSettings(path string) (TsvdSettings, error) {
	s := TsvdSettings{Verbose: LEVEL_INFO}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read settings from %s: %w", path, err)
		}
		if err = yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse settings from %s: %w", path, err)
		}
	}
	applyEnvOverrides(&s)
	return s.ComputeSettingsFields(), nil
}

func applyEnvOverrides(s *TsvdSettings) {
	if url := os.Getenv("DISTTSVD_KAFKA_URL"); url != "" {
		s.KafkaURL = url
		if s.Engine == "" {
			s.Engine = ENGINE_KAFKA
		}
	}
	if engine := os.Getenv("DISTTSVD_ENGINE"); engine != "" {
		s.Engine = engine
	}
	if workers := os.Getenv("DISTTSVD_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			s.Workers = n
		}
	}
	if secret := os.Getenv("DISTTSVD_JWT_SECRET"); secret != "" {
		s.JWTSecret = secret
	}
	if dir := os.Getenv("DISTTSVD_RESULTS_DIRECTORY"); dir != "" {
		s.ResultsDirectory = dir
	}
}
