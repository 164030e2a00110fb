package main

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-spectra/internal/client"
	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/export"
	"github.com/23skdu/longbow-spectra/internal/pipeline"
)

var (
	inputPath      = flag.String("input", "", "CBOR file holding {shape, data} to process")
	outPath        = flag.String("out", "", "Write the Arrow IPC stream here instead of stdout")
	pipelineSpec   = flag.String("pipeline", "smooth,derivative", "Processing steps, e.g. smooth,derivative:order=2,resample:mean:factor=4")
	deferred       = flag.Bool("deferred", false, "Build the pipeline as a graph and execute it in a session")
	demo           = flag.Bool("demo", false, "Process a generated (2, 256) batch of signals")
	column         = flag.String("column", export.DefaultColumn, "Arrow column holding the signals")
	cpuProfile     = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	serverAddr     = flag.String("server", "", "Flight server address to forward results to (e.g., localhost:3000)")
	datasetName    = flag.String("dataset", "spectra_dataset", "Target dataset name on server")
	listenAddr     = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr     = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent  = flag.Int("max-concurrent", 1<<22, "Maximum number of array elements processed concurrently")
	enableOTel     = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	breakerFails   = flag.Int("breaker-failures", 5, "Consecutive forwarding failures before the circuit opens")
	breakerTimeout = flag.Duration("breaker-timeout", 30*time.Second, "Time before an open circuit allows a probe")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	pipe, err := pipeline.Parse(*pipelineSpec)
	if err != nil {
		log.Fatal().Err(err).Str("pipeline", *pipelineSpec).Msg("Invalid pipeline")
	}
	log.Info().Str("pipeline", pipe.String()).Bool("deferred", *deferred).Msg("Pipeline configured")

	var fwd *client.Forwarder
	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *serverAddr).Str("dataset", *datasetName).Msg("Forwarding results to Flight Server")
		fwd = client.NewForwarder(fc, client.NewCircuitBreaker(*breakerFails, *breakerTimeout))
	}

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		cfg := ServerConfig{
			Pipeline:      pipe,
			Deferred:      *deferred,
			DatasetName:   *datasetName,
			Column:        *column,
			MaxConcurrent: *maxConcurrent,
		}
		if fwd != nil {
			cfg.Forwarder = fwd
		}

		if *listenAddr != "" {
			go startServer(*listenAddr, cfg)
		}
		if *flightAddr != "" {
			StartFlightServer(*flightAddr, cfg)
			return
		}
		select {}
	}

	var x *device.CPUTensor
	if *inputPath != "" {
		x, err = readPayloadFile(*inputPath)
		if err != nil {
			log.Fatal().Err(err).Str("input", *inputPath).Msg("Failed to read input")
		}
	} else {
		if !*demo {
			log.Info().Msg("No -input given, processing demo signals")
		}
		x = demoSignal(2, 256)
	}

	start := time.Now()
	result, err := pipe.Run(context.Background(), x, *deferred)
	if err != nil {
		log.Fatal().Err(err).Msg("Pipeline failed")
	}
	log.Info().
		Stringer("in_shape", x.Shape()).
		Stringer("out_shape", result.Shape()).
		Dur("elapsed", time.Since(start)).
		Msg("Processed signals")

	rec, err := export.ToRecordBatch(memory.NewGoAllocator(), result, *column)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record batch")
	}
	defer rec.Release()

	if fwd != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := fwd.Forward(ctx, *datasetName, rec); err != nil {
			log.Fatal().Err(err).Msg("Flight DoPut failed")
		}
		log.Info().Int64("rows", rec.NumRows()).Msg("Successfully sent results")
		return
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer f.Close()
		w = f
	}
	if err := export.WriteIPC(w, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("spectra"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
