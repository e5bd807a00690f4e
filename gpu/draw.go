package gpu

import (
	"encoding/binary"
	"math"
)

// DrawCommandSize is the size in bytes of an encoded DrawCommand.
const DrawCommandSize = 16

// DrawCommand is one record of an indirect draw buffer.
type DrawCommand struct {
	Count         uint32
	InstanceCount uint32
	First         uint32
	BaseInstance  uint32
}

// EncodeDrawCommands lays commands out as the device reads them from a DrawIndirectBuffer.
func EncodeDrawCommands(commands []DrawCommand) []byte {
	out := make([]byte, len(commands)*DrawCommandSize)
	for i, c := range commands {
		o := out[i*DrawCommandSize:]
		binary.LittleEndian.PutUint32(o[0:], c.Count)
		binary.LittleEndian.PutUint32(o[4:], c.InstanceCount)
		binary.LittleEndian.PutUint32(o[8:], c.First)
		binary.LittleEndian.PutUint32(o[12:], c.BaseInstance)
	}
	return out
}

// DecodeDrawCommands is the inverse of EncodeDrawCommands. Trailing bytes are ignored.
func DecodeDrawCommands(data []byte) []DrawCommand {
	out := make([]DrawCommand, len(data)/DrawCommandSize)
	for i := range out {
		o := data[i*DrawCommandSize:]
		out[i] = DrawCommand{
			Count:         binary.LittleEndian.Uint32(o[0:]),
			InstanceCount: binary.LittleEndian.Uint32(o[4:]),
			First:         binary.LittleEndian.Uint32(o[8:]),
			BaseInstance:  binary.LittleEndian.Uint32(o[12:]),
		}
	}
	return out
}

// Float32Bytes encodes values in device byte order.
func Float32Bytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// BytesFloat32 decodes values written by Float32Bytes.
func BytesFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// Uint32Bytes encodes values in device byte order.
func Uint32Bytes(values []uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// BytesUint32 decodes values written by Uint32Bytes.
func BytesUint32(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

// Uint16Bytes encodes values in device byte order.
func Uint16Bytes(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// BytesUint16 decodes values written by Uint16Bytes.
func BytesUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return out
}
