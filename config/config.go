// Package config defines the renderer configuration file.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
	"github.com/alex-tdrn/lpc-renderer/quantize"
	"github.com/alex-tdrn/lpc-renderer/render"
)

// Defaults for fields left unset.
const (
	DefaultMaxDepth                 = 8
	DefaultPreferredVerticesPerNode = 10000
	DefaultLODVertexBudget          = 1000
	DefaultFrames                   = 200
	DefaultViewportWidth            = 1920
	DefaultViewportHeight           = 1080
)

// Config describes what to load and how to render it.
type Config struct {
	ConfigFilePath string `json:"-"`

	Files        []string      `json:"files"`
	Subdivisions *Subdivisions `json:"subdivisions,omitempty"`
	Render       RenderConfig  `json:"render"`
	Selection    Selection     `json:"selection"`
	Bench        BenchConfig   `json:"bench"`
	LogLevel     string        `json:"log_level,omitempty"`
}

// Subdivisions is the brick grid applied to loaded clouds, as splits per axis.
type Subdivisions struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Indices returns the subdivisions as brick indices.
func (s Subdivisions) Indices() pc.Indices {
	return pc.NewIndices(s.X, s.Y, s.Z)
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if len(c.Files) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "files")
	}
	for i, f := range c.Files {
		if f == "" {
			return utils.NewConfigValidationFieldRequiredError(path, fmt.Sprintf("files.%d", i))
		}
	}
	if c.Subdivisions != nil && (c.Subdivisions.X < 0 || c.Subdivisions.Y < 0 || c.Subdivisions.Z < 0) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("subdivisions must not be negative, got %v", c.Subdivisions.Indices()))
	}
	if err := c.Render.Validate(join(path, "render")); err != nil {
		return err
	}
	if err := c.Selection.Validate(join(path, "selection")); err != nil {
		return err
	}
	if err := c.Bench.Validate(join(path, "bench")); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError(join(path, "log_level"), err)
		}
	}
	return nil
}

// Level returns the configured log level, Info when unset.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

// RenderConfig maps onto render.Options. Zero values take the render defaults.
type RenderConfig struct {
	Compression       string  `json:"compression,omitempty"`
	PositionPrecision int     `json:"position_precision,omitempty"`
	BitmapSize        int     `json:"bitmap_size,omitempty"`
	BatchSize         int     `json:"batch_size,omitempty"`
	Normals           bool    `json:"normals,omitempty"`
	NormalSize        int     `json:"normal_size,omitempty"`
	ShrinkToFit       bool    `json:"shrink_to_fit,omitempty"`
	PersistentMapping bool    `json:"persistent_mapping,omitempty"`
	BufferCount       int     `json:"buffer_count,omitempty"`
	PointSize         float32 `json:"point_size,omitempty"`
}

// Validate ensures the render options can be built.
func (c RenderConfig) Validate(path string) error {
	if _, err := c.Options(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Options returns the assembler options.
func (c RenderConfig) Options() (render.Options, error) {
	opts := render.DefaultOptions()
	if c.Compression != "" {
		compression, err := render.ParseCompression(c.Compression)
		if err != nil {
			return render.Options{}, err
		}
		opts.Compression = compression
	}
	if c.PositionPrecision != 0 {
		precision, err := quantize.ParsePrecision(c.PositionPrecision)
		if err != nil {
			return render.Options{}, err
		}
		opts.PositionPrecision = precision
	}
	if c.BitmapSize != 0 {
		opts.BitmapSize = c.BitmapSize
	}
	if c.BatchSize != 0 {
		opts.BatchSize = c.BatchSize
	}
	if c.NormalSize != 0 {
		opts.NormalSize = c.NormalSize
	}
	if c.BufferCount != 0 {
		opts.BufferCount = c.BufferCount
	}
	if c.PointSize != 0 {
		opts.PointSize = c.PointSize
	}
	opts.Normals = c.Normals
	opts.ShrinkToFit = c.ShrinkToFit
	opts.PersistentMapping = c.PersistentMapping
	return opts, opts.Validate()
}

// Selection maps onto render.SelectorOptions. Zero values take the package defaults.
type Selection struct {
	Mode                     string  `json:"mode,omitempty"`
	MaxDepth                 int     `json:"max_depth,omitempty"`
	PreferredVerticesPerNode int     `json:"preferred_vertices_per_node,omitempty"`
	LODPixelArea             float64 `json:"lod_pixel_area,omitempty"`
	LODVertexBudget          int     `json:"lod_vertex_budget,omitempty"`
}

// Validate ensures the selector options can be built.
func (c Selection) Validate(path string) error {
	if _, err := c.Options(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Options returns the selector options.
func (c Selection) Options() (render.SelectorOptions, error) {
	opts := render.SelectorOptions{
		Mode:                     render.WholeCloud,
		MaxDepth:                 DefaultMaxDepth,
		PreferredVerticesPerNode: DefaultPreferredVerticesPerNode,
		LODPixelArea:             c.LODPixelArea,
		LODVertexBudget:          DefaultLODVertexBudget,
	}
	if c.Mode != "" {
		mode, err := render.ParseSelection(c.Mode)
		if err != nil {
			return render.SelectorOptions{}, err
		}
		opts.Mode = mode
	}
	if c.MaxDepth != 0 {
		opts.MaxDepth = c.MaxDepth
	}
	if c.PreferredVerticesPerNode != 0 {
		opts.PreferredVerticesPerNode = c.PreferredVerticesPerNode
	}
	if c.LODVertexBudget != 0 {
		opts.LODVertexBudget = c.LODVertexBudget
	}
	return opts, opts.Validate()
}

// BenchConfig sets up the frames of a benchmark run.
type BenchConfig struct {
	Frames int `json:"frames,omitempty"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Orbit turns the camera this many degrees around the cloud each frame.
	Orbit float32 `json:"orbit,omitempty"`
}

// Validate ensures the frame count and viewport are usable.
func (c BenchConfig) Validate(path string) error {
	if c.Frames < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("frames must not be negative, got %d", c.Frames))
	}
	if c.Width < 0 || c.Height < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("viewport must not be negative, got %dx%d", c.Width, c.Height))
	}
	return nil
}

// WithDefaults returns c with unset fields filled in.
func (c BenchConfig) WithDefaults() BenchConfig {
	if c.Frames == 0 {
		c.Frames = DefaultFrames
	}
	if c.Width == 0 {
		c.Width = DefaultViewportWidth
	}
	if c.Height == 0 {
		c.Height = DefaultViewportHeight
	}
	return c
}
