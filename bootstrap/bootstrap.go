package bootstrap

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"pkt.systems/snipline/internal/appconfig"
	"pkt.systems/snipline/internal/auth"
	"pkt.systems/snipline/internal/mockbackend"
)

// Files represents generated bootstrap artifacts.
type Files struct {
	ConfigYAML  []byte
	SeedYAML    []byte
	ServiceUnit []byte
}

// Options controls optional bootstrap behaviors.
type Options struct {
	// SeedUser and SeedPassword add one mock backend account.
	SeedUser     string
	SeedPassword string
	// Binary is written into the service unit; defaults to the running
	// executable.
	Binary    string
	Overrides []ConfigOverride
}

// Paths reports where bootstrap wrote its outputs.
type Paths struct {
	ConfigPath  string
	SeedPath    string
	ServicePath string
}

const (
	configName  = "config.yaml"
	seedName    = "shortcuts.yaml"
	serviceName = "snipline.service"
)

// ConfigOverride sets one dotted config path, e.g. backend.base_url.
type ConfigOverride struct {
	Path  string
	Value any
}

type templateData struct {
	ConfigVersion int
	ConfigPath    string
	SeedPath      string
	Binary        string
}

// DefaultFiles renders the starter files for the default ~/.snipline root.
func DefaultFiles(opts Options) (Files, error) {
	path, err := appconfig.DefaultConfigPath()
	if err != nil {
		return Files{}, err
	}
	return Render(filepath.Dir(path), opts)
}

// Render returns the starter files with every path rooted at dir.
func Render(dir string, opts Options) (Files, error) {
	if strings.TrimSpace(dir) == "" {
		return Files{}, fmt.Errorf("output directory is required")
	}
	cfg, err := ConfigFor(dir, opts)
	if err != nil {
		return Files{}, err
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return Files{}, err
	}
	data := templateData{
		ConfigVersion: cfg.ConfigVersion,
		ConfigPath:    filepath.Join(dir, configName),
		SeedPath:      cfg.MockBackend.SeedFile,
		Binary:        opts.Binary,
	}
	if data.Binary == "" {
		if exe, err := os.Executable(); err == nil {
			data.Binary = exe
		} else {
			data.Binary = "snipline"
		}
	}
	header, err := renderTemplate("templates/config-header.yaml.tmpl", data)
	if err != nil {
		return Files{}, err
	}
	unit, err := renderTemplate("templates/snipline.service.tmpl", data)
	if err != nil {
		return Files{}, err
	}
	seed, err := yaml.Marshal(mockbackend.DefaultSeed())
	if err != nil {
		return Files{}, err
	}
	return Files{
		ConfigYAML:  append(append(header, '\n'), body...),
		SeedYAML:    seed,
		ServiceUnit: unit,
	}, nil
}

// ConfigFor returns the default config rooted at dir with a fresh mock
// backend token secret and opts applied.
func ConfigFor(dir string, opts Options) (appconfig.Config, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.ConfigVersion = appconfig.CurrentConfigVersion
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.SSH.HostKeyPath = filepath.Join(dir, "ssh_host_key")
	cfg.MockBackend.UserFile = filepath.Join(dir, "users.json")
	cfg.MockBackend.SeedFile = filepath.Join(dir, seedName)
	secret, err := randomSecret()
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.MockBackend.TokenSecret = secret
	if user := strings.TrimSpace(opts.SeedUser); user != "" {
		if opts.SeedPassword == "" {
			return appconfig.Config{}, fmt.Errorf("seed user %s needs a password", user)
		}
		hash, err := auth.HashPassword(opts.SeedPassword)
		if err != nil {
			return appconfig.Config{}, err
		}
		cfg.MockBackend.SeedUsers = []appconfig.SeedUser{{Username: user, PasswordHash: hash, DisplayName: user}}
	}
	return applyOverrides(cfg, opts.Overrides)
}

// WriteFiles writes the bootstrap files to the output directory. Existing
// files are kept unless overwrite is set.
func WriteFiles(outputDir string, files Files, overwrite bool) (Paths, error) {
	if strings.TrimSpace(outputDir) == "" {
		return Paths{}, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		return Paths{}, err
	}
	paths := Paths{
		ConfigPath:  filepath.Join(outputDir, configName),
		SeedPath:    filepath.Join(outputDir, seedName),
		ServicePath: filepath.Join(outputDir, serviceName),
	}
	writes := []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{paths.ConfigPath, files.ConfigYAML, 0o600},
		{paths.SeedPath, files.SeedYAML, 0o600},
		{paths.ServicePath, files.ServiceUnit, 0o644},
	}
	for _, w := range writes {
		if len(w.data) == 0 {
			continue
		}
		if !overwrite {
			if _, err := os.Stat(w.path); err == nil {
				return Paths{}, fmt.Errorf("%s already exists (use --force to overwrite)", w.path)
			}
		}
		if err := os.WriteFile(w.path, w.data, w.mode); err != nil {
			return Paths{}, fmt.Errorf("write %s: %w", w.path, err)
		}
	}
	return paths, nil
}

// WriteBootstrap renders and writes the starter files into outputDir.
func WriteBootstrap(outputDir string, overwrite bool, opts Options) (Paths, error) {
	files, err := Render(outputDir, opts)
	if err != nil {
		return Paths{}, err
	}
	return WriteFiles(outputDir, files, overwrite)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func renderTemplate(name string, data templateData) ([]byte, error) {
	raw, err := readEmbeddedFile(name)
	if err != nil {
		return nil, err
	}
	tpl, err := template.New(filepath.Base(name)).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func applyOverrides(cfg appconfig.Config, overrides []ConfigOverride) (appconfig.Config, error) {
	if len(overrides) == 0 {
		return cfg, nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return cfg, err
	}
	for _, override := range overrides {
		if err := setOverrideValue(data, override.Path, override.Value); err != nil {
			return cfg, err
		}
	}
	updated, err := yaml.Marshal(data)
	if err != nil {
		return cfg, err
	}
	var next appconfig.Config
	if err := yaml.Unmarshal(updated, &next); err != nil {
		return cfg, fmt.Errorf("apply overrides: %w", err)
	}
	return next, nil
}

// ParseOverride splits "path=value". Values parse as yaml scalars so
// numbers and booleans keep their type.
func ParseOverride(raw string) (ConfigOverride, error) {
	path, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(path) == "" {
		return ConfigOverride{}, fmt.Errorf("override must be path=value: %q", raw)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		parsed = value
	}
	return ConfigOverride{Path: strings.TrimSpace(path), Value: parsed}, nil
}

func setOverrideValue(root map[string]any, path string, value any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config override path is required")
	}
	parts := strings.Split(path, ".")
	node := root
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("invalid config override path %q", path)
		}
		if i == len(parts)-1 {
			node[part] = value
			return nil
		}
		next, ok := node[part]
		if !ok || next == nil {
			child := map[string]any{}
			node[part] = child
			node = child
			continue
		}
		child, ok := toStringMap(next)
		if !ok {
			return fmt.Errorf("config override %q: %q is not a map", path, part)
		}
		node[part] = child
		node = child
	}
	return nil
}

func toStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			ks, ok := key.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
