package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

var ErrNoDevice = errors.New("no compute device available")

type DeviceKind string

const (
	CUDA DeviceKind = "cuda"
	MPS  DeviceKind = "mps"
	XPU  DeviceKind = "xpu"
	CPU  DeviceKind = "cpu"
)

// speed ranks device kinds, fastest first.
var speed = []DeviceKind{CUDA, MPS, XPU, CPU}

type Device struct {
	Name string     `json:"name"`
	Kind DeviceKind `json:"kind"`
}

func (d Device) String() string { return d.Name }

// Accelerated reports whether d is anything other than a CPU.
func (d Device) Accelerated() bool { return d.Kind != CPU }

// Precision is half precision on accelerators and single precision on CPUs.
func (d Device) Precision() tensor.Precision {
	return lo.Ternary(d.Accelerated(), tensor.Float16, tensor.Float32)
}

// SelectDevice picks the device called name, or the fastest device when
// name is empty. Devices of the same kind keep their listed order.
func SelectDevice(devices []Device, name string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}

	if name != "" {
		d, ok := lo.Find(devices, func(d Device) bool { return d.Name == name || string(d.Kind) == name })
		if !ok {
			return Device{}, fmt.Errorf("%w: %q not in %v", ErrNoDevice, name, devices)
		}
		return d, nil
	}

	rank := func(k DeviceKind) int {
		if i := slices.Index(speed, k); i >= 0 {
			return i
		}
		return len(speed)
	}
	sorted := slices.Clone(devices)
	slices.SortStableFunc(sorted, func(a, b Device) int { return rank(a.Kind) - rank(b.Kind) })
	return sorted[0], nil
}
