package cli

import (
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	"github.com/alex-tdrn/lpc-renderer/gpu/gldevice"
	"github.com/alex-tdrn/lpc-renderer/gpu/memdevice"
	"github.com/alex-tdrn/lpc-renderer/logging"
	"github.com/alex-tdrn/lpc-renderer/render"
)

// benchDevice is a device with the shaders a benchmark draws with.
type benchDevice struct {
	device   gpu.Device
	commands gpu.Commands
	points   render.Shader
	boxes    render.Shader
	unpack   render.Shader

	// endFrame presents the frame and reports an error a host dispatch ran into.
	endFrame func() error
	close    func()
}

func openDevice(name string, width, height int, fenceLatency time.Duration, logger logging.Logger) (*benchDevice, error) {
	switch name {
	case deviceMem:
		return openMemDevice(fenceLatency), nil
	case deviceGL:
		return openGLDevice(width, height, logger)
	default:
		return nil, errors.Errorf("unknown device %q, expected %s or %s", name, deviceMem, deviceGL)
	}
}

func openMemDevice(fenceLatency time.Duration) *benchDevice {
	d := memdevice.New(memdevice.WithFenceLatency(fenceLatency))
	unpacker := render.NewHostUnpacker(d)
	d.SetKernel(unpacker.Dispatch)
	return &benchDevice{
		device:   d,
		commands: d,
		points:   memdevice.NewShader(),
		boxes:    memdevice.NewShader(),
		unpack:   unpacker,
		endFrame: unpacker.Err,
		close:    func() {},
	}
}

// openGLDevice creates a hidden window with an OpenGL 4.3 core context. Programs are not
// compiled, so uniforms are dropped and draws produce no fragments, leaving buffer streaming and
// synchronization as the measured work.
func openGLDevice(width, height int, logger logging.Logger) (*benchDevice, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		runtime.UnlockOSThread()
		return nil, errors.Wrap(err, "failed to initialize glfw")
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	window, err := glfw.CreateWindow(width, height, "lpcrender", nil, nil)
	if err != nil {
		glfw.Terminate()
		runtime.UnlockOSThread()
		return nil, errors.Wrap(err, "failed to create window")
	}
	window.MakeContextCurrent()
	glfw.SwapInterval(0)

	closeWindow := func() {
		window.Destroy()
		glfw.Terminate()
		runtime.UnlockOSThread()
	}
	d, err := gldevice.New(logger)
	if err != nil {
		closeWindow()
		return nil, err
	}
	return &benchDevice{
		device:   d,
		commands: d,
		points:   gldevice.NewProgram(0),
		boxes:    gldevice.NewProgram(0),
		unpack:   gldevice.NewProgram(0),
		endFrame: func() error {
			window.SwapBuffers()
			glfw.PollEvents()
			return nil
		},
		close: closeWindow,
	}, nil
}
