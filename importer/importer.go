// Package importer reads point cloud files into positions and optional normals.
package importer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// Points are the contents of a point cloud file. Normals is either empty or parallel to
// Positions.
type Points struct {
	Positions []r3.Vector
	Normals   []r3.Vector
}

// Len returns the number of points.
func (p Points) Len() int {
	return len(p.Positions)
}

// Cloud returns a cloud holding the points in a single brick.
func (p Points) Cloud() (*pc.Cloud, error) {
	return pc.New(p.Positions, p.Normals)
}

// Extensions lists the file extensions ReadFile understands.
var Extensions = []string{".pcd", ".las"}

// ReadFile reads the point cloud file fn, choosing the format from its extension.
func ReadFile(fn string, logger logging.Logger) (Points, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return Points{}, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		points, err := ReadPCD(f)
		if err != nil {
			return Points{}, errors.Wrapf(err, "failed to read %q", fn)
		}
		logger.Debugw("read PCD file", "file", fn, "points", points.Len(), "normals", len(points.Normals) > 0)
		return points, nil
	case ".las":
		return ReadLAS(fn, logger)
	default:
		return Points{}, errors.Errorf("do not know how to read file %q, expected one of %v", fn, Extensions)
	}
}

// ReadCloud reads every file and joins them into one cloud.
func ReadCloud(logger logging.Logger, fns ...string) (*pc.Cloud, error) {
	if len(fns) == 0 {
		return nil, errors.New("no point cloud files given")
	}
	clouds := make([]*pc.Cloud, 0, len(fns))
	for _, fn := range fns {
		points, err := ReadFile(fn, logger)
		if err != nil {
			return nil, err
		}
		cloud, err := points.Cloud()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid points in %q", fn)
		}
		clouds = append(clouds, cloud)
	}
	if len(clouds) == 1 {
		return clouds[0], nil
	}
	return pc.Join(clouds...), nil
}
