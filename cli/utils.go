package cli

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/alex-tdrn/lpc-renderer/config"
	"github.com/alex-tdrn/lpc-renderer/importer"
	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "\x1b[1;33mWarning:\x1b[0m "+format+"\n", a...)
}

// newLogger returns the logger of a command, honoring the debug flag over the config level.
func newLogger(c *cli.Context, cfg *config.Config) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("lpcrender")
	}
	logger := logging.NewLogger("lpcrender")
	logger.SetLevel(cfg.Level())
	return logger
}

// loadConfig reads the --config file, if any, and lets positional arguments replace its files.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.Path(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, logging.NewBlankLogger("config")); err != nil {
			return nil, err
		}
	}
	if c.Args().Present() {
		cfg.Files = c.Args().Slice()
	}
	if c.IsSet(flagSubdivisions) {
		sub := c.IntSlice(flagSubdivisions)
		if len(sub) != 3 {
			return nil, errors.Errorf("--%s needs 3 values, got %d", flagSubdivisions, len(sub))
		}
		cfg.Subdivisions = &config.Subdivisions{X: sub[0], Y: sub[1], Z: sub[2]}
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCloud reads and subdivides the configured cloud.
func loadCloud(cfg *config.Config, logger logging.Logger) (*pc.Cloud, error) {
	cloud, err := importer.ReadCloud(logger, cfg.Files...)
	if err != nil {
		return nil, err
	}
	if cfg.Subdivisions != nil {
		if err := cloud.SetSubdivisions(cfg.Subdivisions.Indices()); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
