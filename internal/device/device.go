// Package device resolves where loom networks execute. The choice is made once
// from configuration and handed to every component, so tests can pin either
// path.
package device

import (
	"fmt"
	"strings"

	"github.com/openfluke/loom/gpu"
)

// Kind selects an execution target.
type Kind string

const (
	// Auto tries the accelerator and silently falls back to the CPU.
	Auto Kind = "auto"
	// CPU never touches the accelerator.
	CPU Kind = "cpu"
	// GPU prefers the accelerator; mount failures still fall back to the CPU.
	GPU Kind = "gpu"
)

// Config is the explicit device choice passed to the registry.
type Config struct {
	Kind    Kind
	Adapter string
}

// Parse maps a config string to a Kind. Empty means Auto.
func Parse(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", Auto:
		return Auto, nil
	case CPU:
		return CPU, nil
	case GPU:
		return GPU, nil
	default:
		return "", fmt.Errorf("device: unknown kind %q (want auto, cpu or gpu)", s)
	}
}

// WantsAccelerator reports whether networks should try to mount weights on the GPU.
func (c Config) WantsAccelerator() bool {
	return c.Kind == Auto || c.Kind == GPU
}

// Apply pushes the adapter preference into loom's GPU layer. It is a no-op for CPU.
func (c Config) Apply() {
	if !c.WantsAccelerator() || c.Adapter == "" {
		return
	}
	gpu.SetAdapterPreference(c.Adapter)
}

func (c Config) String() string {
	if c.Adapter != "" && c.WantsAccelerator() {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Adapter)
	}
	return string(c.Kind)
}
