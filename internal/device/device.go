// Package device picks where the compute graph runs.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnavailable is returned when an explicitly requested device is absent.
var ErrUnavailable = errors.New("device: not available")

// Type is the device family.
type Type string

const (
	CPU  Type = "cpu"
	CUDA Type = "cuda"
)

// Device describes the resolved placement.
type Device struct {
	Type Type
	Name string
}

func (d Device) String() string {
	if d.Name == "" {
		return string(d.Type)
	}
	return fmt.Sprintf("%s (%s)", d.Type, d.Name)
}

// Resolve maps a requested device to a concrete one. "auto" (or empty)
// prefers cuda when a device is present and falls back to cpu.
func Resolve(requested string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "", "auto":
		if name, ok := probeCUDA(); ok {
			return Device{Type: CUDA, Name: name}, nil
		}
		return cpuDevice(), nil
	case string(CPU):
		return cpuDevice(), nil
	case string(CUDA):
		name, ok := probeCUDA()
		if !ok {
			return Device{}, fmt.Errorf("%w: cuda", ErrUnavailable)
		}
		return Device{Type: CUDA, Name: name}, nil
	default:
		return Device{}, fmt.Errorf("device: unknown device %q", requested)
	}
}

func cpuDevice() Device {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		name = runtime.GOARCH
	}
	features := []string{}
	for _, f := range []cpuid.FeatureID{cpuid.AVX2, cpuid.AVX512F, cpuid.FMA3, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			features = append(features, f.String())
		}
	}
	if len(features) > 0 {
		name = fmt.Sprintf("%s, %d threads, %s", name, cpuid.CPU.LogicalCores, strings.Join(features, "+"))
	}
	return Device{Type: CPU, Name: name}
}
