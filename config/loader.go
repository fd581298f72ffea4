package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/orbas1/edulure/errors"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	envFiles   []string
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// AddLayer adds a YAML file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddEnvFile adds a dotenv file read before environment overrides are applied.
// Missing files are skipped; variables already set in the environment win.
func (l *Loader) AddEnvFile(path string) {
	l.envFiles = append(l.envFiles, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load applies defaults, each YAML layer, dotenv files and EDULURE_*
// environment variables in that order, then validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		if err := l.applyLayer(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}
	if err := envdecode.Decode(cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode environment")
	}

	if l.validation {
		if err := validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) applyLayer(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "read "+path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.WrapInvalid(err, "Loader", "Load", "parse "+path)
	}
	return nil
}

func (l *Loader) loadEnvFiles() error {
	var present []string
	for _, path := range l.envFiles {
		if _, err := os.Stat(path); err == nil {
			present = append(present, path)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "read env files")
	}
	return nil
}

// validate checks the merged configuration against the embedded JSON schema
// and then the explicit rules in Config.Validate.
func validate(cfg *Config) error {
	s, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "Loader", "validate", "compile schema")
	}

	doc, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "validate", "encode config")
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "validate", "validate schema")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; ")),
			"Loader", "validate", "check schema")
	}

	if err := cfg.Validate(); err != nil {
		return errors.WrapInvalid(err, "Loader", "validate", "check config")
	}
	return nil
}

// Load reads path, if set, and the .env file of the working directory, then
// validates the result.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	l.AddEnvFile(".env")
	l.EnableValidation(true)
	return l.Load()
}
