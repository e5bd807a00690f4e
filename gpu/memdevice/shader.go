package memdevice

import (
	"sync"
)

// Shader records the uniforms set on it.
type Shader struct {
	mu       sync.Mutex
	uses     int
	uniforms map[string]interface{}
}

// NewShader returns a shader with no uniforms set.
func NewShader() *Shader {
	return &Shader{uniforms: map[string]interface{}{}}
}

// Use counts activations.
func (s *Shader) Use() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uses++
}

// Set stores value under name. It never fails.
func (s *Shader) Set(name string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniforms[name] = value
	return nil
}

// Uniform returns the last value set under name.
func (s *Shader) Uniform(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.uniforms[name]
	return v, ok
}

// Uses returns how many times Use was called.
func (s *Shader) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}
