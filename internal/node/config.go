package node

import (
	"distbank/internal/logging"
	"distbank/internal/roster"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	// ErrUnknownProcess is returned when the local process id is not part of the roster.
	ErrUnknownProcess = errors.New("process not in roster")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// ConfigFile represents the JSON configuration file
type ConfigFile struct {
	Debug           bool
	LogLevel        string `json:"LogLevel,omitempty"`
	LogPath         string `json:"LogPath,omitempty"`
	HostsFile       string
	TracePath       string `json:"TracePath,omitempty"`
	InitialBalance  uint32
	Iterations      int
	IntervalMs      uint32
	Amount          uint32
	Interactive     bool
	PrintIntervalMs uint32 `json:"PrintIntervalMs,omitempty"`
	RetransmitMs    uint32 `json:"RetransmitMs,omitempty"`
	MaxRetransmitMs uint32 `json:"MaxRetransmitMs,omitempty"`
	ProbeTimeoutMs  uint32
}

// Values used for the fields missing from the configuration file.
func defaultConfigFile() ConfigFile {
	return ConfigFile{
		HostsFile:      "process.hosts",
		InitialBalance: 1000,
		Iterations:     10,
		IntervalMs:     5000,
		Amount:         100,
		ProbeTimeoutMs: 30000,
	}
}

// Config represents the process configuration, parsed from the command line and the JSON configuration file
type Config struct {
	Debug     bool
	LogLevel  logging.LogLevel
	LogPath   string
	TracePath string

	Self   int
	Roster *roster.Roster

	InitialBalance uint32
	Iterations     int
	Interval       time.Duration
	Amount         uint32
	Interactive    bool
	PrintInterval  time.Duration

	Retransmit    time.Duration
	MaxRetransmit time.Duration
	ProbeTimeout  time.Duration
}

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// NewConfig creates a new process configuration from the command line arguments <process_id> <config_file>.
func NewConfig(args []string) (*Config, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: not enough arguments. Usage: <process_id> <config_file>", ErrInvalidConfig)
	}

	self, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: process id %q: %v", ErrInvalidConfig, args[0], err)
	}

	file, err := LoadConfig(args[1])
	if err != nil {
		return nil, err
	}

	// The hosts file is looked up next to the configuration file.
	hostsPath := file.HostsFile
	if !filepath.IsAbs(hostsPath) {
		hostsPath = filepath.Join(filepath.Dir(args[1]), hostsPath)
	}
	r, err := roster.Load(hostsPath)
	if err != nil {
		return nil, err
	}

	return file.toConfig(self, r)
}

// LoadConfig reads the configuration file, filling absent fields with their defaults.
func LoadConfig(filename string) (*ConfigFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := defaultConfigFile()
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, filename, err)
	}

	return &config, nil
}

// Validates the file contents against the roster and converts them.
func (f *ConfigFile) toConfig(self int, r *roster.Roster) (*Config, error) {
	if !r.Contains(self) {
		return nil, fmt.Errorf("%w: %d not in 0..%d", ErrUnknownProcess, self, r.Size()-1)
	}
	if f.Iterations < 0 {
		return nil, fmt.Errorf("%w: negative iteration count %d", ErrInvalidConfig, f.Iterations)
	}
	if f.MaxRetransmitMs != 0 && f.MaxRetransmitMs < f.RetransmitMs {
		return nil, fmt.Errorf("%w: MaxRetransmitMs %d below RetransmitMs %d", ErrInvalidConfig, f.MaxRetransmitMs, f.RetransmitMs)
	}

	return &Config{
		Debug:     f.Debug,
		LogLevel:  logging.ParseLogLevel(f.LogLevel),
		LogPath:   f.LogPath,
		TracePath: f.TracePath,

		Self:   self,
		Roster: r,

		InitialBalance: f.InitialBalance,
		Iterations:     f.Iterations,
		Interval:       millis(f.IntervalMs),
		Amount:         f.Amount,
		Interactive:    f.Interactive,
		PrintInterval:  millis(f.PrintIntervalMs),

		Retransmit:    millis(f.RetransmitMs),
		MaxRetransmit: millis(f.MaxRetransmitMs),
		ProbeTimeout:  millis(f.ProbeTimeoutMs),
	}, nil
}
