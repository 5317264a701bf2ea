// Package config handles vela.toml runtime tuning configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/velalang/vela/vm"
)

// File represents a vela.toml runtime configuration.
type File struct {
	Memory Memory `toml:"memory"`

	// Dir is the directory containing the vela.toml file (set at load time).
	Dir string `toml:"-"`
}

// Memory tunes the memory subsystem.
type Memory struct {
	// CycleCheckThreshold is the allocation count between cycle-check
	// signals. 0 selects the built-in default.
	CycleCheckThreshold int `toml:"cycle-check-threshold"`

	// MaxObjects caps the live set; 0 means unlimited.
	MaxObjects int `toml:"max-objects"`

	// MaxHeapBytes caps the live byte footprint; 0 means unlimited.
	MaxHeapBytes int64 `toml:"max-heap-bytes"`

	// LogLeaks controls whether shutdown leak censuses are logged.
	LogLeaks bool `toml:"log-leaks"`

	// DiagnosticsDB is the path of the SQLite diagnostics history; empty
	// disables persistence.
	DiagnosticsDB string `toml:"diagnostics-db"`
}

// Default returns the configuration used when no vela.toml is present.
func Default() *File {
	return &File{
		Memory: Memory{
			CycleCheckThreshold: vm.DefaultCycleCheckThreshold,
			LogLeaks:            true,
		},
	}
}

// Load parses a vela.toml file from the given directory.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, "vela.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	f.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if f.Memory.CycleCheckThreshold == 0 {
		f.Memory.CycleCheckThreshold = vm.DefaultCycleCheckThreshold
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the configuration for nonsense values.
func (f *File) Validate() error {
	var errs []error
	if f.Memory.CycleCheckThreshold < 0 {
		errs = append(errs, fmt.Errorf("memory.cycle-check-threshold must be >= 0, got %d",
			f.Memory.CycleCheckThreshold))
	}
	if f.Memory.MaxObjects < 0 {
		errs = append(errs, fmt.Errorf("memory.max-objects must be >= 0, got %d",
			f.Memory.MaxObjects))
	}
	if f.Memory.MaxHeapBytes < 0 {
		errs = append(errs, fmt.Errorf("memory.max-heap-bytes must be >= 0, got %d",
			f.Memory.MaxHeapBytes))
	}
	return errors.Join(errs...)
}

// Options converts the memory section into vm tuning options.
func (m Memory) Options() vm.Options {
	return vm.Options{
		CycleCheckThreshold: m.CycleCheckThreshold,
		MaxObjects:          m.MaxObjects,
		MaxHeapBytes:        m.MaxHeapBytes,
		LogLeaks:            m.LogLeaks,
	}
}
