package simd

import (
	"testing"
)

func TestVecAdd(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{11, 22, 33, 44, 55}

	VecAdd(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAdd(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecAddComplex(t *testing.T) {
	dst := []complex128{1, 2i, 3}
	src := []complex128{1i, 2, -3}
	expected := []complex128{1 + 1i, 2 + 2i, 0}

	VecAddComplex(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAddComplex(%d) = %v, want %v", i, v, expected[i])
		}
	}
}

func TestVecScale(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5, 6}
	expected := []float64{0.5, 1, 1.5, 2, 2.5, 3}

	VecScale(dst, 0.5)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecScale(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecScaleComplex(t *testing.T) {
	dst := []complex128{1, 1i}
	VecScaleComplex(dst, 2i)

	if dst[0] != 2i || dst[1] != -2 {
		t.Errorf("VecScaleComplex = %v, want [2i -2]", dst)
	}
}

func TestVecMulComplex(t *testing.T) {
	dst := []complex128{1, 1i, 2, 3 + 1i, 5}
	w := []complex128{1i, 1i, 0.5, 1, 0, 99}
	// Extra weights beyond len(dst) are ignored
	expected := []complex128{1i, -1, 1, 3 + 1i, 0}

	VecMulComplex(dst, w)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecMulComplex(%d) = %v, want %v", i, v, expected[i])
		}
	}
}
