package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// HistoryDir is the directory, relative to the save root, that keeps
// numbered configuration snapshots.
const HistoryDir = "config_hist"

// DefaultFile is the configuration loaded when no name is given.
const DefaultFile = "config_default.yaml"

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML and validates the result. Unknown keys are rejected so
// typos surface as configuration errors instead of silently defaulting.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve maps a configuration name to a file under root: "" and "latest"
// select the default file, a bare number selects a history snapshot, and
// anything else is taken as a path.
func Resolve(root, name string) string {
	switch {
	case name == "" || name == "latest":
		return filepath.Join(root, DefaultFile)
	case isNumber(name):
		return filepath.Join(root, HistoryDir, "config_"+name+".yaml")
	default:
		return name
	}
}

// Save writes cfg to the next numbered history snapshot and to the default
// file, returning the snapshot path.
func Save(root string, cfg Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	histDir := filepath.Join(root, HistoryDir)
	if err := os.MkdirAll(histDir, 0o755); err != nil {
		return "", fmt.Errorf("create history dir: %w", err)
	}
	latest, err := latestHistory(histDir)
	if err != nil {
		return "", err
	}
	snapshot := filepath.Join(histDir, fmt.Sprintf("config_%d.yaml", latest+1))
	if err := os.WriteFile(snapshot, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", snapshot, err)
	}
	if err := os.WriteFile(filepath.Join(root, DefaultFile), data, 0o644); err != nil {
		return "", fmt.Errorf("write default config: %w", err)
	}
	return snapshot, nil
}

func latestHistory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list history: %w", err)
	}
	latest := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		idx := strings.LastIndex(name, "_")
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(name[idx+1:])
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
