// Package config loads node settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cronokirby/coalesce/internal/network"
)

// ErrInvalidConfig is returned for a config file we can't use
var ErrInvalidConfig = errors.New("config: invalid config file")

// File is the contents of a config file.
//
// Every field is optional, a missing field keeping the node's default.
type File struct {
	Listen   string   `yaml:"listen"`
	Seeds    []string `yaml:"seeds"`
	MinPeers int      `yaml:"min_peers"`
	MaxPeers int      `yaml:"max_peers"`
	// RetryInterval is a duration such as "5s"
	RetryInterval string `yaml:"retry_interval"`
	Quiet         bool   `yaml:"quiet"`
	Handle        string `yaml:"handle"`
}

// Load reads and parses the config file at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a config file, refusing fields it doesn't know
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f.MinPeers < 0 || f.MaxPeers < 0 {
		return nil, fmt.Errorf("%w: peer counts can't be negative", ErrInvalidConfig)
	}
	if _, err := f.retryInterval(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) retryInterval() (time.Duration, error) {
	if f.RetryInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.RetryInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: bad retry_interval %q", ErrInvalidConfig, f.RetryInterval)
	}
	return d, nil
}

// Options converts the file into options for a node
func (f *File) Options() network.Options {
	opts := network.DefaultOptions()
	if f.MinPeers > 0 {
		opts.MinPeers = f.MinPeers
	}
	if f.MaxPeers > 0 {
		opts.MaxPeers = f.MaxPeers
	}
	opts.Seeds = append(opts.Seeds, f.Seeds...)
	if d, err := f.retryInterval(); err == nil && d > 0 {
		opts.RetryInterval = d
	}
	if f.Quiet {
		opts.Logger = network.NopLogger()
	}
	return opts
}
