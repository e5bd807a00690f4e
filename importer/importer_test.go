package importer_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/alex-tdrn/lpc-renderer/importer"
	"github.com/alex-tdrn/lpc-renderer/logging"
)

var samplePoints = importer.Points{
	Positions: []r3.Vector{{X: 0.5, Y: -1.25, Z: 3}, {X: 0, Y: 0, Z: 0}, {X: -2, Y: 8.5, Z: 0.125}},
	Normals:   []r3.Vector{{X: 0, Y: 1, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: -1}},
}

func TestPCDRoundTrip(t *testing.T) {
	for _, typ := range []importer.PCDType{importer.PCDAscii, importer.PCDBinary} {
		for _, withNormals := range []bool{false, true} {
			points := importer.Points{Positions: samplePoints.Positions}
			if withNormals {
				points.Normals = samplePoints.Normals
			}
			t.Run(typ.String(), func(t *testing.T) {
				var buf bytes.Buffer
				test.That(t, importer.WritePCD(points, &buf, typ), test.ShouldBeNil)
				if withNormals {
					test.That(t, buf.String(), test.ShouldContainSubstring, "FIELDS x y z normal_x normal_y normal_z\n")
				}

				read, err := importer.ReadPCD(&buf)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, read.Positions, test.ShouldResemble, points.Positions)
				if withNormals {
					test.That(t, read.Normals, test.ShouldResemble, points.Normals)
				} else {
					test.That(t, read.Normals, test.ShouldBeEmpty)
				}
			})
		}
	}

	var buf bytes.Buffer
	test.That(t, importer.WritePCD(samplePoints, &buf, importer.PCDCompressed), test.ShouldNotBeNil)
	bad := importer.Points{Positions: samplePoints.Positions, Normals: samplePoints.Normals[:1]}
	test.That(t, importer.WritePCD(bad, &buf, importer.PCDAscii), test.ShouldNotBeNil)
}

const asciiWithColor = `# .PCD v.7 - Point Cloud Data file format
VERSION .7
FIELDS x y z rgb
SIZE 4 4 4 4
TYPE F F F U
COUNT 1 1 1 1
WIDTH 2
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 2
DATA ascii
1 2 3 16711680
-1.5 0 4 255
`

func TestReadPCDSkipsOtherFields(t *testing.T) {
	points, err := importer.ReadPCD(strings.NewReader(asciiWithColor))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points.Positions, test.ShouldResemble, []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -1.5, Y: 0, Z: 4}})
	test.That(t, points.Normals, test.ShouldBeEmpty)
}

func TestReadPCDBinaryMixedFields(t *testing.T) {
	header := "VERSION .7\nFIELDS intensity x y z\nSIZE 1 8 8 8\nTYPE U F F F\nCOUNT 1 1 1 1\n" +
		"WIDTH 1\nHEIGHT 2\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary\n"
	var buf bytes.Buffer
	buf.WriteString(header)
	for _, p := range []r3.Vector{{X: 0.1, Y: 0.2, Z: 0.3}, {X: -7, Y: 1e6, Z: 2}} {
		record := make([]byte, 25)
		record[0] = 200
		binary.LittleEndian.PutUint64(record[1:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(record[9:], math.Float64bits(p.Y))
		binary.LittleEndian.PutUint64(record[17:], math.Float64bits(p.Z))
		buf.Write(record)
	}
	points, err := importer.ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points.Positions, test.ShouldResemble, []r3.Vector{{X: 0.1, Y: 0.2, Z: 0.3}, {X: -7, Y: 1e6, Z: 2}})
}

func TestReadPCDErrors(t *testing.T) {
	replace := func(old, new string) string {
		return strings.Replace(asciiWithColor, old, new, 1)
	}
	for name, data := range map[string]string{
		"version":      replace("VERSION .7", "VERSION .6"),
		"missing z":    replace("FIELDS x y z rgb", "FIELDS x y w rgb"),
		"size count":   replace("SIZE 4 4 4 4", "SIZE 4 4 4"),
		"bad type":     replace("TYPE F F F U", "TYPE F F F Q"),
		"bad size":     replace("SIZE 4 4 4 4", "SIZE 4 4 4 3"),
		"points":       replace("POINTS 2", "POINTS 3"),
		"compressed":   replace("DATA ascii", "DATA binary_compressed"),
		"short row":    replace("-1.5 0 4 255", "-1.5 0 4"),
		"bad value":    replace("-1.5 0 4 255", "-1.5 zero 4 255"),
		"missing rows": replace("-1.5 0 4 255\n", ""),
		"out of order": replace("WIDTH 2\nHEIGHT 1", "HEIGHT 1\nWIDTH 2"),
		"no data":      "VERSION .7\nFIELDS x y z\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := importer.ReadPCD(strings.NewReader(data))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}

	var buf bytes.Buffer
	test.That(t, importer.WritePCD(samplePoints, &buf, importer.PCDBinary), test.ShouldBeNil)
	truncated := buf.Bytes()[:buf.Len()-1]
	_, err := importer.ReadPCD(bytes.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)
}

func writePCDFile(t *testing.T, fn string, points importer.Points) {
	t.Helper()
	f, err := os.Create(fn)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	test.That(t, importer.WritePCD(points, f, importer.PCDBinary), test.ShouldBeNil)
}

func TestReadFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	fn := filepath.Join(dir, "sample.PCD")
	writePCDFile(t, fn, samplePoints)

	points, err := importer.ReadFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points.Len(), test.ShouldEqual, 3)
	cloud, err := points.Cloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.HasNormals(), test.ShouldBeTrue)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)

	_, err = importer.ReadFile(filepath.Join(dir, "sample.ply"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = importer.ReadFile(filepath.Join(dir, "missing.pcd"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadCloud(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.pcd"), filepath.Join(dir, "b.pcd")
	writePCDFile(t, first, samplePoints)
	writePCDFile(t, second, importer.Points{Positions: []r3.Vector{{X: 10, Y: 10, Z: 10}}})

	cloud, err := importer.ReadCloud(logger, first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)

	cloud, err = importer.ReadCloud(logger, first, second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 4)
	test.That(t, cloud.HasNormals(), test.ShouldBeFalse)
	test.That(t, cloud.Bounds().Max, test.ShouldResemble, r3.Vector{X: 10, Y: 10, Z: 10})

	_, err = importer.ReadCloud(logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLASRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fn := filepath.Join(t.TempDir(), "sample.las")
	positions := []r3.Vector{{X: 1, Y: 2, Z: 5}, {X: 582, Y: 12, Z: 0}, {X: -3, Y: -4, Z: 7}}
	test.That(t, importer.WriteLAS(importer.Points{Positions: positions}, fn), test.ShouldBeNil)

	points, err := importer.ReadFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points.Len(), test.ShouldEqual, len(positions))
	test.That(t, points.Normals, test.ShouldBeEmpty)
	for i, p := range points.Positions {
		test.That(t, p.X, test.ShouldAlmostEqual, positions[i].X, 0.01)
		test.That(t, p.Y, test.ShouldAlmostEqual, positions[i].Y, 0.01)
		test.That(t, p.Z, test.ShouldAlmostEqual, positions[i].Z, 0.01)
	}

	_, err = importer.ReadLAS(filepath.Join(t.TempDir(), "missing.las"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
