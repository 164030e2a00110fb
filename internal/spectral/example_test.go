package spectral_test

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/spectral"
)

func ExampleDerivative() {
	const n = 16
	signal := make([]float64, n)
	want := make([]float64, n)
	for j := range signal {
		t := 2 * math.Pi * float64(j) / n
		signal[j] = math.Sin(3 * t)
		want[j] = 3 * math.Cos(3*t)
	}

	x, err := device.Eager().NewTensor(device.Shape{n}, signal)
	if err != nil {
		panic(err)
	}
	dx, err := spectral.Derivative(x)
	if err != nil {
		panic(err)
	}

	got := dx.(*device.CPUTensor).Float64s()
	fmt.Println(dx.Shape(), floats.EqualApprox(got, want, 1e-9))
	// Output: (16) true
}

func ExampleSmoothingFilter() {
	x, err := device.Eager().NewTensor(device.Shape{2, 4}, []float64{1, -1, 1, -1, 2, 2, 2, 2})
	if err != nil {
		panic(err)
	}
	smoothed, err := spectral.SmoothingFilter(x)
	if err != nil {
		panic(err)
	}

	got := smoothed.(*device.CPUTensor).Float64s()
	fmt.Println(floats.EqualApprox(got, []float64{0, 0, 0, 0, 2, 2, 2, 2}, 1e-12))
	// Output: true
}
