//go:build ignore

package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/export"
)

// Sends sin(x) over a period to a Spectra Flight Server started with
// -pipeline=derivative and checks that cos(x) comes back.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Spectra Flight Server")

	var c flight.Client
	var err error
	for i := 0; i < 10; i++ {
		c, err = flight.NewClientWithMiddleware(addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	const n = 64
	data := make([]float64, n)
	for j := range data {
		data[j] = math.Sin(2 * math.Pi * float64(j) / n)
	}
	x, err := device.Eager().NewTensor(device.Shape{n}, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build signal")
	}

	mem := memory.NewGoAllocator()
	rec, err := export.ToRecordBatch(mem, x, export.DefaultColumn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record batch")
	}
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	stream, err := c.DoExchange(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("DoExchange failed")
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		log.Fatal().Err(err).Msg("Write failed")
	}
	_ = w.Close()
	_ = stream.CloseSend()

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read response")
	}
	defer reader.Release()
	if !reader.Next() {
		log.Fatal().Err(reader.Err()).Msg("No batch returned")
	}
	got, err := export.FromRecordBatch(reader.Record(), export.DefaultColumn)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid batch returned")
	}
	log.Info().Dur("elapsed", time.Since(start)).Stringer("shape", got.Shape()).Msg("Received derivative")

	values := got.Float64s()
	if len(values) != n {
		log.Fatal().Int("expected", n).Int("got", len(values)).Msg("Length mismatch")
	}
	for j, v := range values {
		want := math.Cos(2 * math.Pi * float64(j) / n)
		if math.Abs(v-want) > 1e-9 {
			log.Fatal().Int("index", j).Float64("got", v).Float64("want", want).Msg("Value mismatch")
		}
	}

	fmt.Println("VERIFICATION PASSED")
}
