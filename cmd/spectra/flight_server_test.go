package main

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/export"
	"github.com/23skdu/longbow-spectra/internal/pipeline"
)

func startFlight(t *testing.T, cfg ServerConfig) flight.Client {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewSpectraFlightServer(cfg))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)

	c, err := flight.NewClientWithMiddleware(server.Addr().String(), nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFlightServer_DoExchange(t *testing.T) {
	p, err := pipeline.Parse("resample:mean:factor=4")
	require.NoError(t, err)
	c := startFlight(t, ServerConfig{Pipeline: p, MaxConcurrent: 1024})

	mem := memory.NewGoAllocator()
	x, err := device.Eager().NewTensor(device.Shape{2, 8}, []float64{
		0, 1, 2, 3, 4, 5, 6, 7,
		8, 9, 10, 11, 12, 13, 14, 15,
	})
	require.NoError(t, err)
	rec, err := export.ToRecordBatch(mem, x, "")
	require.NoError(t, err)
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := c.DoExchange(ctx)
	require.NoError(t, err)

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())
	require.NoError(t, stream.CloseSend())

	reader, err := flight.NewRecordReader(stream)
	require.NoError(t, err)
	defer reader.Release()

	batches := 0
	for reader.Next() {
		got, err := export.FromRecordBatch(reader.Record(), "")
		require.NoError(t, err)
		assert.Equal(t, device.Shape{2, 2}, got.Shape())
		assert.Equal(t, []float64{1.5, 5.5, 9.5, 13.5}, got.Float64s())
		batches++
	}
	if err := reader.Err(); err != nil {
		assert.ErrorIs(t, err, io.EOF)
	}
	assert.Equal(t, 2, batches)
}

func TestFlightServer_DoExchangeError(t *testing.T) {
	c := startFlight(t, ServerConfig{Pipeline: pipeline.New(pipeline.DerivativeStep{Order: 1, Period: 2 * math.Pi}), MaxConcurrent: 1024})

	mem := memory.NewGoAllocator()
	x, err := device.Eager().NewTensor(device.Shape{3}, []float64{1, 2, 3})
	require.NoError(t, err)
	rec, err := export.ToRecordBatch(mem, x, "")
	require.NoError(t, err)
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := c.DoExchange(ctx)
	require.NoError(t, err)
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())
	require.NoError(t, stream.CloseSend())

	_, err = stream.Recv()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "only works for even length data")
}

func TestFlightServer_DoPutForwards(t *testing.T) {
	fwd := &mockForwarder{}
	fwd.On("Forward", mock.Anything, "ds", mock.Anything).Return(nil)

	c := startFlight(t, ServerConfig{
		Pipeline:      pipeline.New(pipeline.SmoothStep{Alpha: 36, Order: 2}),
		DatasetName:   "ds",
		MaxConcurrent: 1024,
		Forwarder:     fwd,
	})

	mem := memory.NewGoAllocator()
	x, err := device.Eager().NewTensor(device.Shape{4}, []float64{1, 1, 1, 1})
	require.NoError(t, err)
	rec, err := export.ToRecordBatch(mem, x, "")
	require.NoError(t, err)
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := c.DoPut(ctx)
	require.NoError(t, err)
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"ds"}})
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())
	require.NoError(t, stream.CloseSend())

	for {
		if _, err := stream.Recv(); err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	fwd.AssertNumberOfCalls(t, "Forward", 1)
}
