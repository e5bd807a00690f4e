package render

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/alex-tdrn/lpc-renderer/logging"
	"github.com/alex-tdrn/lpc-renderer/octree"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// Selection is how the clouds of a frame are chosen from the scene's cloud.
type Selection uint8

// The supported selections.
const (
	// WholeCloud draws the cloud as is.
	WholeCloud Selection = iota
	// OctreeLeaves draws every non-empty octree leaf.
	OctreeLeaves
	// Frustum draws the octree leaves overlapping the view frustum.
	Frustum
	// FrustumLOD draws the leaves overlapping the view frustum, decimating small ones.
	FrustumLOD
)

// Selections lists every selection.
var Selections = []Selection{WholeCloud, OctreeLeaves, Frustum, FrustumLOD}

// String returns the string representation of Selection.
func (s Selection) String() string {
	switch s {
	case WholeCloud:
		return "whole"
	case OctreeLeaves:
		return "octree"
	case Frustum:
		return "frustum"
	case FrustumLOD:
		return "frustum-lod"
	default:
		return "unknown"
	}
}

// ParseSelection parses the String form of a selection.
func ParseSelection(s string) (Selection, error) {
	for _, sel := range Selections {
		if strings.EqualFold(s, sel.String()) {
			return sel, nil
		}
	}
	return WholeCloud, errors.Errorf("unknown selection %q", s)
}

// SelectorOptions configure a Selector.
type SelectorOptions struct {
	Mode                     Selection
	MaxDepth                 int
	PreferredVerticesPerNode int
	// LODPixelArea is the projected leaf area, in pixels, at or below which FrustumLOD decimates.
	LODPixelArea float64
	// LODVertexBudget is the point count decimated leaves are reduced to.
	LODVertexBudget int
}

// Validate returns an error for options no selector can work with.
func (o SelectorOptions) Validate() error {
	if !lo.Contains(Selections, o.Mode) {
		return errors.Errorf("unknown selection %d", o.Mode)
	}
	if o.Mode == WholeCloud {
		return nil
	}
	if o.MaxDepth <= 0 {
		return errors.Errorf("octree max depth must be positive, got %d", o.MaxDepth)
	}
	if o.PreferredVerticesPerNode <= 0 {
		return errors.Errorf("octree preferred vertices per node must be positive, got %d", o.PreferredVerticesPerNode)
	}
	if o.Mode == FrustumLOD && (o.LODPixelArea < 0 || o.LODVertexBudget <= 0) {
		return errors.Errorf("level of detail needs a non-negative pixel area and a positive vertex budget, got %v and %d",
			o.LODPixelArea, o.LODVertexBudget)
	}
	return nil
}

// Selector chooses the clouds drawn each frame, keeping the octree of the scene's cloud cached.
type Selector struct {
	opts  SelectorOptions
	cache *octree.Cache
}

// NewSelector returns a selector with an empty octree cache.
func NewSelector(opts SelectorOptions, logger logging.Logger) (*Selector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Selector{opts: opts, cache: octree.NewCache(logger)}, nil
}

// Options returns the current options.
func (s *Selector) Options() SelectorOptions {
	return s.opts
}

// SetOptions replaces the options. Octree parameter changes are applied on the next Select.
func (s *Selector) SetOptions(opts SelectorOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	s.opts = opts
	return nil
}

// Octree returns the octree of cloud under the current parameters, building it if needed.
func (s *Selector) Octree(cloud *pc.Cloud) (*octree.Octree, error) {
	return s.cache.Get(cloud, s.opts.MaxDepth, s.opts.PreferredVerticesPerNode)
}

// Select returns the clouds to draw for cloud seen from scene.
func (s *Selector) Select(cloud *pc.Cloud, scene Scene) ([]*pc.Cloud, error) {
	if cloud == nil {
		return nil, nil
	}
	if s.opts.Mode == WholeCloud {
		return []*pc.Cloud{cloud}, nil
	}
	tree, err := s.Octree(cloud)
	if err != nil {
		return nil, err
	}
	switch s.opts.Mode {
	case OctreeLeaves:
		return tree.PointClouds(true), nil
	case Frustum:
		return tree.PointCloudsInsideFrustum(MVP(scene), scene.Viewport(), 0, 0), nil
	case FrustumLOD:
		return tree.PointCloudsInsideFrustum(MVP(scene), scene.Viewport(), s.opts.LODPixelArea, s.opts.LODVertexBudget), nil
	case WholeCloud:
		return []*pc.Cloud{cloud}, nil
	default:
		return nil, errors.Errorf("unknown selection %d", s.opts.Mode)
	}
}

// Reset drops the cached octree.
func (s *Selector) Reset() {
	s.cache.Reset()
}
