package importer

import (
	"fmt"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/alex-tdrn/lpc-renderer/logging"
)

// LAS coordinates beyond this magnitude lose precision once converted to float32 on upload.
const maxPreciseFloat32 = 1 << 24

// ReadLAS returns the positions of a LAS file. LAS carries no normals. Coordinates that will
// lose precision once uploaded as float32 are reported but are not an error.
func ReadLAS(fn string, logger logging.Logger) (Points, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return Points{}, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	points := Points{Positions: make([]r3.Vector, 0, lf.Header.NumberPoints)}
	lossy := 0
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return Points{}, err
		}
		data := p.PointData()
		v := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		if abs := v.Abs(); abs.X > maxPreciseFloat32 || abs.Y > maxPreciseFloat32 || abs.Z > maxPreciseFloat32 {
			lossy++
		}
		points.Positions = append(points.Positions, v)
	}
	if lossy > 0 {
		logger.Warnw("potential floating point lossiness for LAS points",
			"file", fn, "points", lossy, "range", fmt.Sprintf("[%d,%d]", -maxPreciseFloat32, maxPreciseFloat32))
	}
	logger.Debugw("read LAS file", "file", fn, "points", points.Len(), "format", lf.Header.PointFormatID)
	return points, nil
}

// WriteLAS writes the positions of points to a LAS file of point format 0.
func WriteLAS(points Points, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return err
	}
	for _, p := range points.Positions {
		if err := lf.AddLasPoint(&lidario.PointRecord0{
			X: p.X,
			Y: p.Y,
			Z: p.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: 1,
		}); err != nil {
			return err
		}
	}
	return nil
}
