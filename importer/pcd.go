package importer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// PCDType is the data section format of a pcd file.
type PCDType int

const (
	// PCDAscii is one whitespace separated point per line.
	PCDAscii PCDType = iota
	// PCDBinary is packed little endian point records.
	PCDBinary
	// PCDCompressed is LZF compressed column data, which is not supported.
	PCDCompressed
)

func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return "unknown"
	}
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

var (
	positionFields = []string{"x", "y", "z"}
	normalFields   = []string{"normal_x", "normal_y", "normal_z"}
)

type pcdField struct {
	name  string
	size  int
	typ   string
	count int
}

type pcdHeader struct {
	fields []pcdField
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

// column returns the value offset of the named field in an ascii row, or -1.
func (h *pcdHeader) column(name string) int {
	col := 0
	for _, f := range h.fields {
		if f.name == name {
			return col
		}
		col += f.count
	}
	return -1
}

// offset returns the byte offset of the named field in a binary record, or -1.
func (h *pcdHeader) offset(name string) int {
	off := 0
	for _, f := range h.fields {
		if f.name == name {
			return off
		}
		off += f.size * f.count
	}
	return -1
}

func (h *pcdHeader) field(name string) pcdField {
	f, _ := lo.Find(h.fields, func(f pcdField) bool { return f.name == name })
	return f
}

func (h *pcdHeader) hasNormals() bool {
	return lo.EveryBy(normalFields, func(n string) bool { return h.column(n) >= 0 })
}

func (h *pcdHeader) values() int {
	return lo.SumBy(h.fields, func(f pcdField) int { return f.count })
}

func (h *pcdHeader) recordSize() int {
	return lo.SumBy(h.fields, func(f pcdField) int { return f.size * f.count })
}

func parseUints(tokens []string, what string) ([]int, error) {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s field %q", what, token)
		}
		out[i] = int(v)
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %q", name, line)
	}
	tokens := strings.Fields(value)
	if lo.Contains([]string{"SIZE", "TYPE", "COUNT"}, name) && len(tokens) != len(header.fields) {
		return errors.Errorf("%s has %d entries for %d fields", name, len(tokens), len(header.fields))
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = lo.Map(tokens, func(t string, _ int) pcdField { return pcdField{name: t, count: 1} })
		for _, required := range positionFields {
			if header.column(required) < 0 {
				return errors.Errorf("pcd fields %q lack %q", value, required)
			}
		}
	case "SIZE":
		sizes, err := parseUints(tokens, "SIZE")
		if err != nil {
			return err
		}
		for i, s := range sizes {
			header.fields[i].size = s
		}
	case "TYPE":
		for i, t := range tokens {
			if !lo.Contains([]string{"F", "I", "U"}, t) {
				return errors.Errorf("invalid TYPE field %q", t)
			}
			header.fields[i].typ = t
		}
	case "COUNT":
		counts, err := parseUints(tokens, "COUNT")
		if err != nil {
			return err
		}
		for i, c := range counts {
			if c == 0 {
				return errors.Errorf("field %s has a zero COUNT", header.fields[i].name)
			}
			header.fields[i].count = c
		}
	case "WIDTH", "HEIGHT", "POINTS":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %s field %q", name, value)
		}
		switch name {
		case "WIDTH":
			header.width = v
		case "HEIGHT":
			header.height = v
		default:
			if v != header.width*header.height {
				return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", v, header.width*header.height)
			}
			header.points = v
		}
	case "VIEWPOINT":
		// the viewpoint pose is not applied; points are read in sensor frame
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line, expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err := strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %q", token)
			}
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %q", value)
		}
	}
	return nil
}

func (h *pcdHeader) validate() error {
	for _, f := range h.fields {
		valid := false
		switch f.typ {
		case "F":
			valid = f.size == 4 || f.size == 8
		case "I", "U":
			valid = f.size == 1 || f.size == 2 || f.size == 4 || f.size == 8
		}
		if !valid {
			return errors.Errorf("field %s has unsupported type %s of size %d", f.name, f.typ, f.size)
		}
	}
	return nil
}

// ReadPCD reads a pcd file with ascii or binary data. Fields other than x, y, z and
// normal_x, normal_y, normal_z are skipped. Normals are kept only if all three are present.
func ReadPCD(inRaw io.Reader) (Points, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return Points{}, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return Points{}, err
		}
		headerLineCount++
	}
	if err := header.validate(); err != nil {
		return Points{}, err
	}

	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, &header)
	case PCDBinary:
		return readPCDBinary(in, &header)
	case PCDCompressed:
		return Points{}, errors.Errorf("%v pcd data is not supported", header.data)
	default:
		return Points{}, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

func newPoints(header *pcdHeader) Points {
	points := Points{Positions: make([]r3.Vector, 0, header.points)}
	if header.hasNormals() {
		points.Normals = make([]r3.Vector, 0, header.points)
	}
	return points
}

func readPCDAscii(in *bufio.Reader, header *pcdHeader) (Points, error) {
	points := newPoints(header)
	columns := lo.Map(append(append([]string(nil), positionFields...), normalFields...), func(name string, _ int) int {
		return header.column(name)
	})
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && strings.TrimSpace(line) != "") {
			return Points{}, errors.Wrapf(err, "failed to read point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != header.values() {
			return Points{}, errors.Errorf("point %d has %d values, expected %d", i, len(tokens), header.values())
		}
		var v [6]float64
		for j, col := range columns {
			if col < 0 {
				continue
			}
			if v[j], err = strconv.ParseFloat(tokens[col], 64); err != nil {
				return Points{}, errors.Wrapf(err, "invalid point %d field %q", i, tokens[col])
			}
		}
		points.add(v)
	}
	return points, nil
}

func readPCDBinary(in *bufio.Reader, header *pcdHeader) (Points, error) {
	points := newPoints(header)
	names := append(append([]string(nil), positionFields...), normalFields...)
	record := make([]byte, header.recordSize())
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return Points{}, errors.Wrapf(err, "failed to read point %d", i)
		}
		var v [6]float64
		for j, name := range names {
			off := header.offset(name)
			if off < 0 {
				continue
			}
			v[j] = decodePCDValue(record[off:], header.field(name))
		}
		points.add(v)
	}
	return points, nil
}

func decodePCDValue(b []byte, f pcdField) float64 {
	switch {
	case f.typ == "F" && f.size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case f.typ == "F":
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case f.size == 1 && f.typ == "I":
		return float64(int8(b[0]))
	case f.size == 1:
		return float64(b[0])
	case f.size == 2 && f.typ == "I":
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case f.size == 2:
		return float64(binary.LittleEndian.Uint16(b))
	case f.size == 4 && f.typ == "I":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case f.size == 4:
		return float64(binary.LittleEndian.Uint32(b))
	case f.typ == "I":
		return float64(int64(binary.LittleEndian.Uint64(b)))
	default:
		return float64(binary.LittleEndian.Uint64(b))
	}
}

func (p *Points) add(v [6]float64) {
	p.Positions = append(p.Positions, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
	if p.Normals != nil {
		p.Normals = append(p.Normals, r3.Vector{X: v[3], Y: v[4], Z: v[5]})
	}
}

// WritePCD writes points as a pcd file with float32 fields, adding normal fields when the
// points have normals.
func WritePCD(points Points, out io.Writer, outputType PCDType) error {
	if len(points.Normals) != 0 && len(points.Normals) != len(points.Positions) {
		return errors.Errorf("got %d normals for %d positions", len(points.Normals), len(points.Positions))
	}
	if outputType != PCDAscii && outputType != PCDBinary {
		return errors.Errorf("writing %v pcd data is not supported", outputType)
	}
	withNormals := len(points.Normals) > 0
	names := positionFields
	if withNormals {
		names = append(append([]string(nil), positionFields...), normalFields...)
	}
	repeat := func(s string) string {
		return strings.TrimSpace(strings.Repeat(s+" ", len(names)))
	}

	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, "VERSION .7\nFIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n"+
		"WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %v\n",
		strings.Join(names, " "), repeat("4"), repeat("F"), repeat("1"),
		points.Len(), points.Len(), outputType); err != nil {
		return err
	}

	buf := make([]byte, 4*len(names))
	for i, p := range points.Positions {
		values := []float64{p.X, p.Y, p.Z}
		if withNormals {
			n := points.Normals[i]
			values = append(values, n.X, n.Y, n.Z)
		}
		var err error
		switch outputType {
		case PCDBinary:
			for j, v := range values {
				binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(float32(v)))
			}
			_, err = w.Write(buf)
		case PCDAscii, PCDCompressed:
			_, err = fmt.Fprintln(w, strings.Join(lo.Map(values, func(v float64, _ int) string {
				return strconv.FormatFloat(v, 'f', -1, 32)
			}), " "))
		}
		if err != nil {
			return err
		}
	}
	return w.Flush()
}
