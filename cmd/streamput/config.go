package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"

	"github.com/bitrise-io/go-streamupload/archive"
	"github.com/bitrise-io/go-streamupload/httpwriter"
	"github.com/bitrise-io/go-streamupload/pipe"
)

const (
	urlKey              = "STREAMPUT_URL"
	sourceKey           = "STREAMPUT_SOURCE"
	pathsKey            = "STREAMPUT_PATHS"
	compressionLevelKey = "STREAMPUT_COMPRESSION_LEVEL"
	chunkSizeKey        = "STREAMPUT_CHUNK_SIZE"
	pipeCapacityKey     = "STREAMPUT_PIPE_CAPACITY"
	probeTimeoutKey     = "STREAMPUT_PROBE_TIMEOUT"
	connectTimeoutKey   = "STREAMPUT_CONNECT_TIMEOUT"
	reportIntervalKey   = "STREAMPUT_REPORT_INTERVAL"
	tokenKey            = "STREAMPUT_TOKEN"
	verboseKey          = "STREAMPUT_VERBOSE"
	envFileKey          = "STREAMPUT_ENV_FILE"

	defaultChunkSize      = 64 * units.KiB
	maxChunkSize          = 64 * units.MiB
	defaultReportInterval = 5 * time.Second
)

// Inputs are the raw settings read from the environment.
type Inputs struct {
	URL              stepconf.Secret `env:"STREAMPUT_URL,required"`
	Source           string          `env:"STREAMPUT_SOURCE"`
	Paths            string          `env:"STREAMPUT_PATHS"`
	CompressionLevel int             `env:"STREAMPUT_COMPRESSION_LEVEL"`
	ChunkSize        string          `env:"STREAMPUT_CHUNK_SIZE"`
	PipeCapacity     int             `env:"STREAMPUT_PIPE_CAPACITY"`
	ProbeTimeout     string          `env:"STREAMPUT_PROBE_TIMEOUT"`
	ConnectTimeout   string          `env:"STREAMPUT_CONNECT_TIMEOUT"`
	ReportInterval   string          `env:"STREAMPUT_REPORT_INTERVAL"`
	Token            stepconf.Secret `env:"STREAMPUT_TOKEN"`
	Verbose          bool            `env:"STREAMPUT_VERBOSE"`
}

// Config is the validated command configuration.
type Config struct {
	URL              stepconf.Secret
	Source           string
	Paths            []string
	CompressionLevel int
	ChunkSize        int64
	PipeCapacity     int
	ProbeTimeout     time.Duration
	ConnectTimeout   time.Duration
	ReportInterval   time.Duration
	Token            stepconf.Secret
	Verbose          bool
}

// IsArchive reports whether paths are archived instead of a single source being uploaded.
func (c Config) IsArchive() bool {
	return len(c.Paths) > 0
}

// loadEnvFile fills the variables that are not set yet from the file named by STREAMPUT_ENV_FILE.
func loadEnvFile(envRepo env.Repository) error {
	pth := envRepo.Get(envFileKey)
	if pth == "" {
		return nil
	}

	values, err := godotenv.Read(pth)
	if err != nil {
		return fmt.Errorf("read env file %s: %w", pth, err)
	}
	for key, value := range values {
		if envRepo.Get(key) != "" {
			continue
		}
		if err := envRepo.Set(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func parseInputs(envRepo env.Repository) (Inputs, error) {
	var inputs Inputs
	if err := stepconf.NewInputParser(envRepo).Parse(&inputs); err != nil {
		return Inputs{}, fmt.Errorf("parse inputs: %w", err)
	}
	return inputs, nil
}

func createConfig(inputs Inputs) (Config, error) {
	defaults := httpwriter.DefaultClientConfig()
	config := Config{
		URL:              stepconf.Secret(strings.TrimSpace(string(inputs.URL))),
		Source:           strings.TrimSpace(inputs.Source),
		Paths:            splitPaths(inputs.Paths),
		CompressionLevel: inputs.CompressionLevel,
		PipeCapacity:     inputs.PipeCapacity,
		Token:            stepconf.Secret(strings.TrimSpace(string(inputs.Token))),
		Verbose:          inputs.Verbose,
	}

	if config.URL == "" {
		return Config{}, fmt.Errorf("upload URL should not be empty")
	}
	if config.IsArchive() && config.Source != "" {
		return Config{}, fmt.Errorf("source and paths are mutually exclusive")
	}

	if config.CompressionLevel == 0 {
		config.CompressionLevel = archive.DefaultCompressionLevel
	}
	if config.CompressionLevel < archive.MinCompressionLevel || config.CompressionLevel > archive.MaxCompressionLevel {
		return Config{}, fmt.Errorf("compression level should be between %d and %d", archive.MinCompressionLevel, archive.MaxCompressionLevel)
	}

	if config.PipeCapacity == 0 {
		config.PipeCapacity = pipe.DefaultCapacity
	}
	if config.PipeCapacity < 0 {
		return Config{}, fmt.Errorf("pipe capacity should not be negative")
	}

	config.ChunkSize = defaultChunkSize
	if inputs.ChunkSize != "" {
		size, err := units.RAMInBytes(inputs.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk size: %w", err)
		}
		if size < 1 || size > maxChunkSize {
			return Config{}, fmt.Errorf("chunk size should be between 1B and %s", units.BytesSize(maxChunkSize))
		}
		config.ChunkSize = size
	}

	var err error
	if config.ProbeTimeout, err = parseDuration("probe timeout", inputs.ProbeTimeout, defaults.ProbeTimeout); err != nil {
		return Config{}, err
	}
	if config.ConnectTimeout, err = parseDuration("connect timeout", inputs.ConnectTimeout, defaults.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if config.ReportInterval, err = parseDuration("report interval", inputs.ReportInterval, defaultReportInterval); err != nil {
		return Config{}, err
	}

	return config, nil
}

func splitPaths(value string) []string {
	var paths []string
	for _, p := range strings.Split(value, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func parseDuration(name, value string, defaultValue time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s should be positive", name)
	}
	return d, nil
}
