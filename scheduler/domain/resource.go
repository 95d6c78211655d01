// Package domain provides definitions for Herd schedules, components and instances
package domain

import (
	"fmt"
)

// Metric names one dimension of a ResourceVector. A schedule's balancing
// strategy ranks nodes along a single metric.
type Metric int

const (
	CPU Metric = iota
	Memory
	GPU
)

func (m Metric) String() string {
	switch m {
	case CPU:
		return "cpu"
	case Memory:
		return "memory"
	case GPU:
		return "gpu"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric converts the configured metric name to a Metric.
func ParseMetric(name string) (Metric, error) {
	switch name {
	case "cpu":
		return CPU, nil
	case "memory":
		return Memory, nil
	case "gpu":
		return GPU, nil
	}
	return CPU, fmt.Errorf("unknown balancing metric %q", name)
}

// ResourceVector is an immutable multi-dimensional resource quantity.
// All fields are non-negative. Memory is in MB, normalized upstream.
type ResourceVector struct {
	CPUCores int64
	MemoryMB int64
	GPUCards int64
}

func NewResourceVector(cpu, memoryMB, gpu int64) ResourceVector {
	if cpu < 0 || memoryMB < 0 || gpu < 0 {
		panic(fmt.Sprintf("negative resource vector: cpu=%d memoryMB=%d gpu=%d", cpu, memoryMB, gpu))
	}
	return ResourceVector{CPUCores: cpu, MemoryMB: memoryMB, GPUCards: gpu}
}

func (r ResourceVector) String() string {
	return fmt.Sprintf("{cpu:%d, memoryMB:%d, gpu:%d}", r.CPUCores, r.MemoryMB, r.GPUCards)
}

// Add returns the componentwise sum of r and other.
func (r ResourceVector) Add(other ResourceVector) ResourceVector {
	return ResourceVector{
		CPUCores: r.CPUCores + other.CPUCores,
		MemoryMB: r.MemoryMB + other.MemoryMB,
		GPUCards: r.GPUCards + other.GPUCards,
	}
}

// Sub returns the componentwise difference of r and other. Driving any
// dimension negative is a programming error, not a recoverable condition,
// so Sub panics rather than returning an error. Callers check Fits first.
func (r ResourceVector) Sub(other ResourceVector) ResourceVector {
	if !other.Fits(r) {
		panic(fmt.Sprintf("resource vector subtraction underflow: %s - %s", r, other))
	}
	return ResourceVector{
		CPUCores: r.CPUCores - other.CPUCores,
		MemoryMB: r.MemoryMB - other.MemoryMB,
		GPUCards: r.GPUCards - other.GPUCards,
	}
}

// Fits reports whether r is satisfiable by free, i.e. r <= free in every dimension.
func (r ResourceVector) Fits(free ResourceVector) bool {
	return r.CPUCores <= free.CPUCores &&
		r.MemoryMB <= free.MemoryMB &&
		r.GPUCards <= free.GPUCards
}

func (r ResourceVector) IsZero() bool {
	return r.CPUCores == 0 && r.MemoryMB == 0 && r.GPUCards == 0
}

// Get returns the amount of the given metric dimension.
func (r ResourceVector) Get(m Metric) int64 {
	switch m {
	case CPU:
		return r.CPUCores
	case Memory:
		return r.MemoryMB
	case GPU:
		return r.GPUCards
	}
	return 0
}
