package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/alex-tdrn/lpc-renderer/logging"
)

// Read reads a config from the given file, substituting environment variables first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if err := cfg.Validate(""); err != nil {
		return nil, errors.Wrap(err, "failed to validate Config")
	}

	// point cloud files are relative to the config file
	if originalPath != "" {
		dir := filepath.Dir(originalPath)
		for i, f := range cfg.Files {
			if !filepath.IsAbs(f) {
				cfg.Files[i] = filepath.Join(dir, f)
			}
		}
	}
	logger.Debugw("read config", "path", originalPath, "files", len(cfg.Files),
		"compression", cfg.Render.Compression, "selection", cfg.Selection.Mode)
	return &cfg, nil
}
