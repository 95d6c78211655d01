package domain

import (
	"testing"
)

func TestResourceVector_Fits(t *testing.T) {
	free := NewResourceVector(8, 4096, 2)

	fits := []ResourceVector{
		NewResourceVector(0, 0, 0),
		NewResourceVector(8, 4096, 2),
		NewResourceVector(1, 1024, 0),
	}
	for _, req := range fits {
		if !req.Fits(free) {
			t.Errorf("expected %s to fit in %s", req, free)
		}
	}

	doesNotFit := []ResourceVector{
		NewResourceVector(9, 0, 0),
		NewResourceVector(0, 4097, 0),
		NewResourceVector(0, 0, 3),
		NewResourceVector(8, 4096, 3),
	}
	for _, req := range doesNotFit {
		if req.Fits(free) {
			t.Errorf("expected %s not to fit in %s", req, free)
		}
	}
}

func TestResourceVector_AddSub(t *testing.T) {
	a := NewResourceVector(4, 2048, 1)
	b := NewResourceVector(2, 1024, 1)

	sum := a.Add(b)
	if sum != NewResourceVector(6, 3072, 2) {
		t.Errorf("unexpected sum %s", sum)
	}

	diff := a.Sub(b)
	if diff != NewResourceVector(2, 1024, 0) {
		t.Errorf("unexpected difference %s", diff)
	}

	if !a.Sub(a).IsZero() {
		t.Errorf("expected a-a to be zero")
	}
}

func TestResourceVector_SubUnderflowPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected subtraction underflow to panic")
		}
	}()
	small := NewResourceVector(1, 100, 0)
	big := NewResourceVector(2, 100, 0)
	small.Sub(big)
}

func TestResourceVector_NegativeConstructionPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected negative vector construction to panic")
		}
	}()
	NewResourceVector(-1, 0, 0)
}

func TestResourceVector_Get(t *testing.T) {
	v := NewResourceVector(3, 512, 1)
	if v.Get(CPU) != 3 || v.Get(Memory) != 512 || v.Get(GPU) != 1 {
		t.Errorf("Get returned wrong dimensions for %s", v)
	}
}

func TestParseMetric(t *testing.T) {
	for name, want := range map[string]Metric{"cpu": CPU, "memory": Memory, "gpu": GPU} {
		got, err := ParseMetric(name)
		if err != nil || got != want {
			t.Errorf("ParseMetric(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseMetric("disk"); err == nil {
		t.Errorf("expected ParseMetric to reject unknown metric")
	}
}
