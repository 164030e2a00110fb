package main

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-spectra/internal/export"
)

// SpectraFlightServer runs the configured pipeline over Flight streams.
// DoExchange answers each batch with its processed form; DoPut processes
// and forwards, or drops the result when no forwarder is set.
type SpectraFlightServer struct {
	flight.BaseFlightServer
	srv *Server
}

func NewSpectraFlightServer(cfg ServerConfig) *SpectraFlightServer {
	return &SpectraFlightServer{srv: NewServer(cfg)}
}

func (s *SpectraFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoExchange")
	defer span.End()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.srv.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	var writer *flight.Writer
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	cfg := s.srv.cfg
	batches := 0
	for reader.Next() {
		x, err := export.FromRecordBatch(reader.Record(), cfg.Column)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("batch %d: %w", batches, err)
		}
		out, _, err := s.srv.process(ctx, cfg.Pipeline, x, cfg.Deferred)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("batch %d: %w", batches, err)
		}
		rec, err := export.ToRecordBatch(s.srv.alloc, out, cfg.Column)
		if err != nil {
			return err
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.srv.alloc))
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
		batches++
	}
	log.Debug().Int("batches", batches).Msg("DoExchange complete")
	return reader.Err()
}

func (s *SpectraFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoPut")
	defer span.End()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.srv.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	cfg := s.srv.cfg
	for reader.Next() {
		rec := reader.Record()
		x, err := export.FromRecordBatch(rec, cfg.Column)
		if err != nil {
			span.RecordError(err)
			return err
		}
		out, _, err := s.srv.process(ctx, cfg.Pipeline, x, cfg.Deferred)
		if err != nil {
			span.RecordError(err)
			return err
		}
		log.Info().
			Int64("rows", rec.NumRows()).
			Stringer("out_shape", out.Shape()).
			Msg("DoPut processed batch")
	}
	return reader.Err()
}

func StartFlightServer(addr string, cfg ServerConfig) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewSpectraFlightServer(cfg))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Spectra Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
