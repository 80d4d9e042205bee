// Package config loads starbridge settings from a TOML or YAML file and
// turns them into executor options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caffeineduck/starbridge/executor"
	"github.com/caffeineduck/starbridge/hostfunc"
	"gopkg.in/yaml.v3"
)

// Config mirrors the executor options. Relative paths are resolved
// against the directory of the file they were loaded from.
type Config struct {
	Path           []string          `toml:"path" yaml:"path"`
	Debug          bool              `toml:"debug" yaml:"debug"`
	SwitchDelay    Duration          `toml:"switch_delay" yaml:"switch_delay"`
	SwitchInterval Duration          `toml:"switch_interval" yaml:"switch_interval"`
	KV             *KV               `toml:"kv" yaml:"kv"`
	HTTP           HTTP              `toml:"http" yaml:"http"`
	Mounts         []Mount           `toml:"mounts" yaml:"mounts"`
	Wasm           map[string]string `toml:"wasm" yaml:"wasm"`
	Cache          Cache             `toml:"cache" yaml:"cache"`
	MemoryLimit    string            `toml:"memory_limit" yaml:"memory_limit"`
}

// KV enables the key-value store. Zero limits keep the defaults.
type KV struct {
	MaxKeySize   int `toml:"max_key_size" yaml:"max_key_size"`
	MaxValueSize int `toml:"max_value_size" yaml:"max_value_size"`
	MaxEntries   int `toml:"max_entries" yaml:"max_entries"`
}

type HTTP struct {
	AllowedHosts []string `toml:"allowed_hosts" yaml:"allowed_hosts"`
	MaxURLLength int      `toml:"max_url_length" yaml:"max_url_length"`
	MaxBodySize  int64    `toml:"max_body_size" yaml:"max_body_size"`
	Timeout      Duration `toml:"timeout" yaml:"timeout"`
}

type Mount struct {
	Virtual string `toml:"virtual" yaml:"virtual"`
	Host    string `toml:"host" yaml:"host"`
	Mode    string `toml:"mode" yaml:"mode"`
}

type Cache struct {
	Disk bool   `toml:"disk" yaml:"disk"`
	Dir  string `toml:"dir" yaml:"dir"`
}

// Duration accepts strings such as "10ms" or "1.5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Load reads a config file. The format follows the extension: .toml,
// .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg *Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		cfg, err = ParseTOML(data)
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		return nil, fmt.Errorf("config: unsupported format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.resolve(dir)
	return cfg, nil
}

func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return &cfg, nil
}

func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i, p := range c.Path {
		c.Path[i] = abs(p)
	}
	for i := range c.Mounts {
		c.Mounts[i].Host = abs(c.Mounts[i].Host)
	}
	for name, p := range c.Wasm {
		c.Wasm[name] = abs(p)
	}
	c.Cache.Dir = abs(c.Cache.Dir)
}

// Options converts the config into executor options. Wasm binaries are
// read here.
func (c *Config) Options() ([]executor.ExecutorOption, error) {
	var opts []executor.ExecutorOption

	if len(c.Path) > 0 {
		opts = append(opts, executor.WithModulePath(c.Path...))
	}
	if c.Debug {
		opts = append(opts, executor.WithDebug())
	}
	if c.SwitchDelay.Duration > 0 {
		opts = append(opts, executor.WithSwitchDelay(c.SwitchDelay.Duration))
	}
	if c.SwitchInterval.Duration > 0 {
		opts = append(opts, executor.WithSwitchInterval(c.SwitchInterval.Duration))
	}

	if c.KV != nil {
		opts = append(opts, executor.WithKV())
		if c.KV.MaxKeySize > 0 {
			opts = append(opts, executor.WithKVMaxKeySize(c.KV.MaxKeySize))
		}
		if c.KV.MaxValueSize > 0 {
			opts = append(opts, executor.WithKVMaxValueSize(c.KV.MaxValueSize))
		}
		if c.KV.MaxEntries > 0 {
			opts = append(opts, executor.WithKVMaxEntries(c.KV.MaxEntries))
		}
	}

	if len(c.HTTP.AllowedHosts) > 0 {
		opts = append(opts, executor.WithAllowedHosts(c.HTTP.AllowedHosts))
		if c.HTTP.MaxURLLength > 0 {
			opts = append(opts, executor.WithHTTPMaxURLLength(c.HTTP.MaxURLLength))
		}
		if c.HTTP.MaxBodySize > 0 {
			opts = append(opts, executor.WithHTTPMaxBodySize(c.HTTP.MaxBodySize))
		}
		if c.HTTP.Timeout.Duration > 0 {
			opts = append(opts, executor.WithHTTPTimeout(c.HTTP.Timeout.Duration))
		}
	}

	for _, m := range c.Mounts {
		mode, err := hostfunc.ParseMountMode(m.Mode)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", m.Virtual, err)
		}
		opts = append(opts, executor.WithMount(m.Virtual, m.Host, mode))
	}

	for _, name := range slices.Sorted(maps.Keys(c.Wasm)) {
		bin, err := os.ReadFile(c.Wasm[name])
		if err != nil {
			return nil, fmt.Errorf("wasm module %s: %w", name, err)
		}
		opts = append(opts, executor.WithWasmModule(name, bin))
	}

	if c.Cache.Disk {
		opts = append(opts, executor.WithDiskCache(c.Cache.Dir))
	}
	if c.MemoryLimit != "" {
		pages, err := ParseMemoryLimit(c.MemoryLimit)
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithMemoryLimit(pages))
	}
	return opts, nil
}

// ParseMount parses "virtual:host:mode".
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}
	if _, err := hostfunc.ParseMountMode(parts[2]); err != nil {
		return Mount{}, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", parts[2])
	}
	return Mount{Virtual: parts[0], Host: parts[1], Mode: parts[2]}, nil
}

// ParseMemoryLimit accepts 1mb, 16mb, 64mb, 256mb, 1gb or a page count.
func ParseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB, nil
	case "16mb":
		return executor.MemoryLimit16MB, nil
	case "64mb":
		return executor.MemoryLimit64MB, nil
	case "256mb":
		return executor.MemoryLimit256MB, nil
	case "1gb":
		return executor.MemoryLimit1GB, nil
	}
	pages, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb, 256mb, 1gb or pages)", s)
	}
	return uint32(pages), nil
}
