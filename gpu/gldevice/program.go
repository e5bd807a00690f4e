package gldevice

import (
	"github.com/go-gl/gl/v4.3-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Program sets uniforms on a linked shader program. Compiling and linking happen elsewhere.
type Program struct {
	handle    uint32
	locations map[string]int32
}

// NewProgram wraps a linked program.
func NewProgram(handle uint32) *Program {
	return &Program{handle: handle, locations: map[string]int32{}}
}

// Use makes the program current.
func (p *Program) Use() {
	gl.UseProgram(p.handle)
}

func (p *Program) location(name string) int32 {
	if loc, ok := p.locations[name]; ok {
		return loc
	}
	loc := gl.GetUniformLocation(p.handle, gl.Str(name+"\x00"))
	p.locations[name] = loc
	return loc
}

// Set assigns a uniform of the current program. Names the linker optimized away are ignored.
func (p *Program) Set(name string, value interface{}) error {
	loc := p.location(name)
	if loc < 0 {
		return nil
	}
	switch v := value.(type) {
	case bool:
		var i int32
		if v {
			i = 1
		}
		gl.Uniform1i(loc, i)
	case int:
		gl.Uniform1i(loc, int32(v))
	case int32:
		gl.Uniform1i(loc, v)
	case uint32:
		gl.Uniform1ui(loc, v)
	case float32:
		gl.Uniform1f(loc, v)
	case float64:
		gl.Uniform1f(loc, float32(v))
	case mgl32.Vec2:
		gl.Uniform2f(loc, v[0], v[1])
	case mgl32.Vec3:
		gl.Uniform3f(loc, v[0], v[1], v[2])
	case mgl32.Vec4:
		gl.Uniform4f(loc, v[0], v[1], v[2], v[3])
	case r3.Vector:
		gl.Uniform3f(loc, float32(v.X), float32(v.Y), float32(v.Z))
	case [3]uint32:
		gl.Uniform3ui(loc, v[0], v[1], v[2])
	case mgl32.Mat4:
		gl.UniformMatrix4fv(loc, 1, false, &v[0])
	default:
		return errors.Errorf("unsupported uniform type %T for %q", value, name)
	}
	return nil
}
