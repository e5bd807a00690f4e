package render

import (
	"github.com/pkg/errors"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
	"github.com/alex-tdrn/lpc-renderer/quantize"
)

// maxGeometryExpansionIndex is the largest brick index the 8-bit brick attribute can hold.
const maxGeometryExpansionIndex = 255

func (a *Assembler) updateBrickGeometryExpansion(clouds []*pc.Cloud) error {
	a.keepBuffers(bufBricks, bufPacked)
	var (
		indices []byte
		offsets []uint32
		lengths []uint32
		packed  []uint32
	)
	a.draws = a.draws[:0]
	for _, c := range clouds {
		draw := cloudDraw{cloud: c, first: len(lengths)}
		for _, brick := range c.NonEmptyBricks() {
			idx := brick.Indices
			if idx.I > maxGeometryExpansionIndex || idx.J > maxGeometryExpansionIndex || idx.K > maxGeometryExpansionIndex {
				return errors.Errorf("brick %v does not fit the 8-bit indices of %v", idx, BrickGeometryExpansion)
			}
			indices = append(indices, byte(idx.I), byte(idx.J), byte(idx.K))
			offsets = append(offsets, uint32(len(packed)))
			lengths = append(lengths, uint32(brick.Size()))
			for _, p := range brick.Positions {
				packed = append(packed, quantize.PackUnorm4x8(p))
			}
		}
		draw.count = len(lengths) - draw.first
		a.draws = append(a.draws, draw)
	}
	for len(indices)%4 != 0 {
		indices = append(indices, 0)
	}

	offsetBytes, lengthBytes := gpu.Uint32Bytes(offsets), gpu.Uint32Bytes(lengths)
	b, err := a.write(bufBricks, indices, offsetBytes, lengthBytes)
	if err != nil {
		return err
	}
	b.Bind()
	a.commands.EnableVertexAttribArray(0)
	a.commands.VertexAttribIPointer(0, 3, gpu.UnsignedByte, 0, 0)
	a.commands.EnableVertexAttribArray(1)
	a.commands.VertexAttribIPointer(1, 1, gpu.UnsignedInt, 0, len(indices))
	a.commands.EnableVertexAttribArray(2)
	a.commands.VertexAttribIPointer(2, 1, gpu.UnsignedInt, 0, len(indices)+len(offsetBytes))

	_, err = a.write(bufPacked, gpu.Uint32Bytes(packed))
	return err
}

func (a *Assembler) renderBrickGeometryExpansion(shader Shader) error {
	if err := a.current(bufPacked).BindBase(0); err != nil {
		return err
	}
	for _, d := range a.draws {
		if d.count == 0 {
			continue
		}
		if err := setCloud(shader, d.cloud); err != nil {
			return err
		}
		a.commands.DrawArrays(gpu.Points, int32(d.first), int32(d.count))
		a.stats.Draws++
	}
	return nil
}

func (a *Assembler) updateBrickIndirect(clouds []*pc.Cloud) error {
	names := []string{bufPositions, bufDraws}
	if a.normals {
		names = append(names, bufNormals)
	}
	a.keepBuffers(names...)

	wide := a.opts.PositionPrecision.WordSize() == 4
	var (
		draws     []gpu.DrawCommand
		positions []uint32
		short     []uint16
		normals   []uint32
		normals8  []uint16
		vertex    uint32
	)
	a.draws = a.draws[:0]
	for _, c := range clouds {
		draw := cloudDraw{cloud: c, first: len(draws)}
		bricks := c.Bricks()
		for linear := range bricks {
			brick := &bricks[linear]
			if brick.IsEmpty() {
				continue
			}
			draws = append(draws, gpu.DrawCommand{
				Count:         uint32(brick.Size()),
				InstanceCount: 1,
				First:         vertex,
				BaseInstance:  uint32(linear),
			})
			vertex += uint32(brick.Size())
			for i, p := range brick.Positions {
				if wide {
					positions = append(positions, quantize.PackPrecision(p, a.opts.PositionPrecision))
				} else {
					short = append(short, uint16(quantize.PackPrecision(p, a.opts.PositionPrecision)))
				}
				if !a.normals {
					continue
				}
				if a.opts.NormalSize == 16 {
					normals = append(normals, quantize.Spherical16(brick.Normals[i]))
				} else {
					normals8 = append(normals8, quantize.Spherical8(brick.Normals[i]))
				}
			}
		}
		draw.count = len(draws) - draw.first
		a.draws = append(a.draws, draw)
	}

	positionType, positionBytes := gpu.UnsignedShort, gpu.Uint16Bytes(short)
	if wide {
		positionType, positionBytes = gpu.UnsignedInt, gpu.Uint32Bytes(positions)
	}
	b, err := a.write(bufPositions, positionBytes)
	if err != nil {
		return err
	}
	b.Bind()
	a.commands.EnableVertexAttribArray(0)
	a.commands.VertexAttribIPointer(0, 1, positionType, 0, 0)

	if a.normals {
		normalType, normalBytes := gpu.UnsignedInt, gpu.Uint32Bytes(normals)
		if a.opts.NormalSize == 8 {
			normalType, normalBytes = gpu.UnsignedShort, gpu.Uint16Bytes(normals8)
		}
		b, err := a.write(bufNormals, normalBytes)
		if err != nil {
			return err
		}
		b.Bind()
		a.commands.EnableVertexAttribArray(1)
		a.commands.VertexAttribIPointer(1, 1, normalType, 0, 0)
	}

	_, err = a.write(bufDraws, gpu.EncodeDrawCommands(draws))
	return err
}

func (a *Assembler) renderBrickIndirect(shader Shader) error {
	if err := multiSet(shader,
		"positionPrecision", int(a.opts.PositionPrecision),
		"normalSize", a.opts.NormalSize,
		"normals", a.normals,
	); err != nil {
		return err
	}
	a.current(bufDraws).Bind()
	for _, d := range a.draws {
		if d.count == 0 {
			continue
		}
		if err := setCloud(shader, d.cloud); err != nil {
			return err
		}
		a.commands.MultiDrawArraysIndirect(gpu.Points, d.first*gpu.DrawCommandSize, int32(d.count), 0)
		a.stats.Draws++
	}
	return nil
}

func (a *Assembler) updateBitmapDedup(clouds []*pc.Cloud) error {
	a.keepBuffers(bufBitmaps, bufBitmapIndices, bufExpanded, bufExpandedDraws, bufCounter)
	size := a.opts.BitmapSize
	var bitmaps, indices []uint32
	a.draws = a.draws[:0]
	for _, c := range clouds {
		cloudBitmaps, cloudIndices := buildBitmaps(c, size)
		a.draws = append(a.draws, cloudDraw{cloud: c, first: len(indices), count: len(cloudIndices)})
		bitmaps = append(bitmaps, cloudBitmaps...)
		indices = append(indices, cloudIndices...)
	}

	if _, err := a.write(bufBitmaps, gpu.Uint32Bytes(bitmaps)); err != nil {
		return err
	}
	if _, err := a.write(bufBitmapIndices, gpu.Uint32Bytes(indices)); err != nil {
		return err
	}
	positionCount := a.opts.BatchSize * size * size * size
	expanded, err := a.reserve(bufExpanded, (positionCount+positionCount%2)*2)
	if err != nil {
		return err
	}
	if _, err := a.reserve(bufExpandedDraws, a.opts.BatchSize*gpu.DrawCommandSize); err != nil {
		return err
	}
	if _, err := a.reserve(bufCounter, 4); err != nil {
		return err
	}

	expanded.BindAs(gpu.ArrayBuffer)
	a.commands.EnableVertexAttribArray(0)
	a.commands.VertexAttribIPointer(0, 1, gpu.UnsignedShort, 0, 0)
	return nil
}

func (a *Assembler) renderBitmapDedup(shader Shader) error {
	if a.unpack == nil {
		return errors.Errorf("%v needs an unpack shader", BitmapDedup)
	}
	for slot, name := range map[uint32]string{
		SlotBitmaps:         bufBitmaps,
		SlotBitmapIndices:   bufBitmapIndices,
		SlotPackedPositions: bufExpanded,
		SlotDrawCommands:    bufExpandedDraws,
	} {
		if err := a.current(name).BindBase(slot); err != nil {
			return err
		}
	}
	counter := a.current(bufCounter)
	if err := counter.BindBase(SlotCounter); err != nil {
		return err
	}
	a.current(bufExpanded).BindAs(gpu.ArrayBuffer)
	a.current(bufExpandedDraws).BindAs(gpu.DrawIndirectBuffer)

	a.unpack.Use()
	if err := a.unpack.Set("bitmapSize", a.opts.BitmapSize); err != nil {
		return err
	}
	shader.Use()
	if err := shader.Set("positionPrecision", a.opts.BitmapSize); err != nil {
		return err
	}

	for _, d := range a.draws {
		if d.count == 0 {
			continue
		}
		if err := setCloud(shader, d.cloud); err != nil {
			return err
		}
		for done := 0; done < d.count; done += a.opts.BatchSize {
			n := min(a.opts.BatchSize, d.count-done)
			if err := counter.Clear(); err != nil {
				return err
			}
			a.unpack.Use()
			if err := a.unpack.Set("bitmapsOffset", d.first+done); err != nil {
				return err
			}
			a.commands.DispatchCompute(uint32(n), 1, 1)
			shader.Use()
			a.commands.MemoryBarrier(gpu.VertexAttribArrayBarrier | gpu.CommandBarrier)
			a.commands.MultiDrawArraysIndirect(gpu.Points, 0, int32(n), 0)
			a.stats.Dispatches++
			a.stats.Draws++
		}
	}
	return nil
}
