package main

import (
	"fmt"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-spectra/internal/device"
)

// ArrayPayload is the CBOR form of an eager array, used for input files
// and HTTP bodies.
type ArrayPayload struct {
	Shape []int     `cbor:"shape"`
	Data  []float64 `cbor:"data"`
}

func (p ArrayPayload) Tensor() (*device.CPUTensor, error) {
	if p.Shape == nil {
		p.Shape = []int{len(p.Data)}
	}
	if p.Data == nil {
		p.Data = []float64{}
	}
	return device.Eager().NewTensor(device.Shape(p.Shape), p.Data)
}

func payloadOf(x *device.CPUTensor) ArrayPayload {
	return ArrayPayload{Shape: x.Shape(), Data: x.Float64s()}
}

func readPayloadFile(path string) (*device.CPUTensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p ArrayPayload
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p.Tensor()
}

// demoSignal returns a batch of periodic signals, each a low harmonic plus
// a weak high-frequency ripple.
func demoSignal(batch, n int) *device.CPUTensor {
	data := make([]float64, batch*n)
	for b := 0; b < batch; b++ {
		for j := 0; j < n; j++ {
			x := 2 * math.Pi * float64(j) / float64(n)
			data[b*n+j] = math.Sin(float64(b+1)*x) + 0.05*math.Sin(float64(n/3)*x)
		}
	}
	t, err := device.Eager().NewTensor(device.Shape{batch, n}, data)
	if err != nil {
		panic(err)
	}
	return t
}
