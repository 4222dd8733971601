package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

const (
	defaultOutputDir = "../Data_IO/HUC-Data-Lists/"
	defaultAPIBase   = "https://ordspub.epa.gov/ords/grts_rest/grts_rest_apex/grts_rest_apex/GetProjectsByHUC12/"

	// First year of the Clean Water Act section 319 program.
	defaultMinValidDate = "1987-12-31"
)

// Output file suffixes, appended to OUTPUT_BASE_NAME by OutputPath.
const (
	SuffixJSON     = ".json"
	SuffixLines    = ".ld.json"
	SuffixCSV      = "_csv.txt"
	SuffixXLSX     = ".pandas.xlsx"
	SuffixFeather  = ".pandas.feather"
	SuffixSnapshot = ".snapshot.avro"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	InputFile      string
	OutputDir      string
	OutputBaseName string
	ProgressFile   string
	CSVHeaderFile  string
	CSVDelimiter   string
	LineEnding     string

	APIBase      string
	MinValidDate time.Time

	// Pacing between codes, and the cooldown after a non-200 answer.
	PaceInterval time.Duration
	ErrorBackoff time.Duration

	// Transport retry budget.
	RetryTotal         int
	RetryConnect       int
	RetryRead          int
	RetryBackoffFactor time.Duration
	RequestTimeout     time.Duration
	LegacyTLS          bool

	HTTPAddr        string
	KafkaBrokers    []string
	KafkaTopic      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	minDateStr := sharedcfg.EnvOrDefault("MIN_VALID_DATE", defaultMinValidDate)
	minDate, err := time.Parse(time.DateOnly, minDateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_VALID_DATE %q: want YYYY-MM-DD", minDateStr)
	}

	paceInterval, err := parseDuration("PACE_INTERVAL", "750ms", true)
	if err != nil {
		return nil, err
	}
	errorBackoff, err := parseDuration("ERROR_BACKOFF", "3s", true)
	if err != nil {
		return nil, err
	}
	backoffFactor, err := parseDuration("RETRY_BACKOFF_FACTOR", "3s", true)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parseDuration("REQUEST_TIMEOUT", "60s", false)
	if err != nil {
		return nil, err
	}

	retryTotal, err := parseCount("RETRY_TOTAL", 20)
	if err != nil {
		return nil, err
	}
	retryConnect, err := parseCount("RETRY_CONNECT", 10)
	if err != nil {
		return nil, err
	}
	retryRead, err := parseCount("RETRY_READ", 10)
	if err != nil {
		return nil, err
	}

	lineEnding, err := parseLineEnding(sharedcfg.EnvOrDefault("LINE_ENDING", "lf"))
	if err != nil {
		return nil, err
	}

	delim := sharedcfg.EnvOrDefault("CSV_DELIMITER", ";")
	if utf8.RuneCountInString(delim) != 1 {
		return nil, fmt.Errorf("invalid CSV_DELIMITER %q: want a single character", delim)
	}

	outputDir := sharedcfg.EnvOrDefault("OUTPUT_DIR", defaultOutputDir)

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		InputFile:      sharedcfg.EnvOrDefault("INPUT_FILE", filepath.Join(outputDir, "New_England_HUC12s.csv")),
		OutputDir:      outputDir,
		OutputBaseName: sharedcfg.EnvOrDefault("OUTPUT_BASE_NAME", "GRTS-Data-NewEng-byHUC"),
		ProgressFile:   sharedcfg.EnvOrDefault("PROGRESS_FILE", filepath.Join(outputDir, "HUC-ProgressReport.txt")),
		CSVHeaderFile:  sharedcfg.EnvOrDefault("CSV_HEADER_FILE", "data-Header-Row.txt"),
		CSVDelimiter:   delim,
		LineEnding:     lineEnding,

		APIBase:      sharedcfg.EnvOrDefault("API_BASE", defaultAPIBase),
		MinValidDate: minDate,

		PaceInterval: paceInterval,
		ErrorBackoff: errorBackoff,

		RetryTotal:         retryTotal,
		RetryConnect:       retryConnect,
		RetryRead:          retryRead,
		RetryBackoffFactor: backoffFactor,
		RequestTimeout:     requestTimeout,
		LegacyTLS:          sharedcfg.EnvOrDefault("LEGACY_TLS", "true") == "true",

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		KafkaBrokers:    brokers,
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "grts-projects"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.InputFile == "" {
		return nil, fmt.Errorf("INPUT_FILE is required")
	}
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("API_BASE is required")
	}
	if cfg.OutputBaseName == "" {
		return nil, fmt.Errorf("OUTPUT_BASE_NAME is required")
	}
	if cfg.RetryConnect > cfg.RetryTotal || cfg.RetryRead > cfg.RetryTotal {
		return nil, fmt.Errorf("RETRY_CONNECT and RETRY_READ must not exceed RETRY_TOTAL (%d)", cfg.RetryTotal)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// OutputPath joins the output directory with the base name and a suffix,
// e.g. OutputPath(".ld.json").
func (c *Config) OutputPath(suffix string) string {
	return filepath.Join(c.OutputDir, c.OutputBaseName+suffix)
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseCount(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", key, s)
	}
	return n, nil
}

func parseLineEnding(s string) (string, error) {
	switch s {
	case "lf":
		return "\n", nil
	case "crlf":
		return "\r\n", nil
	default:
		return "", fmt.Errorf("invalid LINE_ENDING %q: want lf or crlf", s)
	}
}
