package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/export"
	"github.com/23skdu/longbow-spectra/internal/pipeline"
	"github.com/23skdu/longbow-spectra/internal/resample"
)

var (
	arraysProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_arrays_processed_total",
		Help: "The total number of arrays run through a pipeline",
	})

	elementsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_elements_processed_total",
		Help: "The total number of input array elements processed",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spectra_request_duration_seconds",
		Help:    "Time spent processing requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
)

var tracer = otel.Tracer("spectra-server")

const arrowStreamType = "application/vnd.apache.arrow.stream"

// ForwarderInterface sends processed batches downstream.
type ForwarderInterface interface {
	Forward(ctx context.Context, dataset string, rec arrow.RecordBatch) error
}

// ServerConfig holds what the HTTP and Flight front ends share.
type ServerConfig struct {
	Pipeline      *pipeline.Pipeline
	Deferred      bool
	DatasetName   string
	Column        string
	MaxConcurrent int
	Forwarder     ForwarderInterface
}

// ProcessRequest is the CBOR body of POST /process. An empty pipeline
// uses the server's configured one.
type ProcessRequest struct {
	Pipeline string    `cbor:"pipeline,omitempty"`
	Deferred bool      `cbor:"deferred,omitempty"`
	Shape    []int     `cbor:"shape"`
	Data     []float64 `cbor:"data"`
}

type Server struct {
	cfg       ServerConfig
	alloc     memory.Allocator
	sem       *semaphore.Weighted
	maxWeight int64
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New()
	}
	if cfg.Column == "" {
		cfg.Column = export.DefaultColumn
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Server{
		cfg:       cfg,
		alloc:     memory.NewGoAllocator(),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		maxWeight: int64(cfg.MaxConcurrent),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/process", s.handleProcess)
	mux.HandleFunc("/process/arrow", s.handleProcessArrow)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, cfg ServerConfig) {
	srv := NewServer(cfg)

	log.Info().Str("addr", addr).Str("pipeline", cfg.Pipeline.String()).Msg("Starting Spectra Server")
	if cfg.Forwarder != nil {
		log.Info().Str("dataset", cfg.DatasetName).Msg("Forwarding processed batches")
	}

	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// admit reserves weight units of the concurrency budget. The returned
// status is non-zero when the request must be refused.
func (s *Server) admit(ctx context.Context, weight int64) (release func(), status int, err error) {
	if weight < 1 {
		weight = 1
	}
	if weight > s.maxWeight {
		return nil, http.StatusRequestEntityTooLarge,
			fmt.Errorf("array of %d elements exceeds the limit of %d", weight, s.maxWeight)
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	return func() { s.sem.Release(weight) }, 0, nil
}

// admissionWeight is the larger of the element count and the last-axis
// length. Spectral steps allocate per last-axis length even when there are
// no rows.
func admissionWeight(x *device.CPUTensor) int64 {
	weight := int64(x.Len())
	shape := x.Shape()
	if r := shape.Rank(); r > 0 && int64(shape[r-1]) > weight {
		weight = int64(shape[r-1])
	}
	return weight
}

// process runs p on x under admission control and forwards the result
// when a forwarder is configured.
func (s *Server) process(ctx context.Context, p *pipeline.Pipeline, x *device.CPUTensor, deferred bool) (*device.CPUTensor, int, error) {
	release, status, err := s.admit(ctx, admissionWeight(x))
	if err != nil {
		return nil, status, err
	}
	defer release()

	out, err := p.Run(ctx, x, deferred)
	if err != nil {
		return nil, statusFor(err), err
	}
	arraysProcessed.Inc()
	elementsProcessed.Add(float64(x.Len()))

	if s.cfg.Forwarder != nil {
		s.forward(ctx, out)
	}
	return out, 0, nil
}

func (s *Server) forward(ctx context.Context, x *device.CPUTensor) {
	rec, err := export.ToRecordBatch(s.alloc, x, s.cfg.Column)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build record batch for forwarding")
		return
	}
	defer rec.Release()

	if err := s.cfg.Forwarder.Forward(ctx, s.cfg.DatasetName, rec); err != nil {
		log.Error().Err(err).Msg("Error forwarding batch")
	}
}

// statusFor maps processing errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrUnknownStep),
		errors.Is(err, pipeline.ErrInvalidParam),
		errors.Is(err, resample.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrInvalidAxis),
		errors.Is(err, device.ErrOddLength),
		errors.Is(err, device.ErrIndivisible),
		errors.Is(err, device.ErrUnknownDim),
		errors.Is(err, device.ErrShapeMismatch),
		errors.Is(err, device.ErrDType),
		errors.Is(err, device.ErrNotIndexable),
		errors.Is(err, device.ErrInvalidOrder):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// pipelineFor returns the request's pipeline, or the configured one when
// text is empty.
func (s *Server) pipelineFor(text string) (*pipeline.Pipeline, error) {
	if text == "" {
		return s.cfg.Pipeline, nil
	}
	return pipeline.Parse(text)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleProcess")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ProcessRequest
	decoder := cbor.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	p, err := s.pipelineFor(req.Pipeline)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (pipeline): %v", err), http.StatusBadRequest)
		return
	}
	x, err := ArrayPayload{Shape: req.Shape, Data: req.Data}.Tensor()
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (array): %v", err), http.StatusBadRequest)
		return
	}

	deferred := s.cfg.Deferred || req.Deferred
	span.SetAttributes(
		attribute.String("pipeline", p.String()),
		attribute.String("shape", x.Shape().String()),
		attribute.Bool("deferred", deferred),
	)

	out, status, err := s.process(ctx, p, x, deferred)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Int("status", status).Msg("Process request failed")
		http.Error(w, err.Error(), status)
		return
	}

	body, err := cbor.Marshal(payloadOf(out))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleProcessArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleProcessArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("process_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	p, err := s.pipelineFor(query.Get("pipeline"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad Request (pipeline): %v", err), http.StatusBadRequest)
		return
	}
	deferred := s.cfg.Deferred
	if v := query.Get("deferred"); v != "" {
		if deferred, err = strconv.ParseBool(v); err != nil {
			http.Error(w, fmt.Sprintf("Bad Request (deferred): %v", err), http.StatusBadRequest)
			return
		}
	}
	column := s.cfg.Column
	if v := query.Get("column"); v != "" {
		column = v
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	// Results are buffered so a failing batch can still produce an error
	// status.
	var results []arrow.RecordBatch
	defer func() {
		for _, rec := range results {
			rec.Release()
		}
	}()

	for reader.Next() {
		x, err := export.FromRecordBatch(reader.Record(), column)
		if err != nil {
			span.RecordError(err)
			http.Error(w, fmt.Sprintf("Bad Request (batch %d): %v", len(results), err), http.StatusBadRequest)
			return
		}
		out, status, err := s.process(ctx, p, x, deferred)
		if err != nil {
			span.RecordError(err)
			http.Error(w, fmt.Sprintf("batch %d: %v", len(results), err), status)
			return
		}
		rec, err := export.ToRecordBatch(s.alloc, out, column)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		results = append(results, rec)
	}

	if reader.Err() != nil {
		log.Error().Err(reader.Err()).Msg("Error reading Arrow stream")
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("batches", len(results)))

	if len(results) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", arrowStreamType)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteIPC(w, results...); err != nil {
		log.Error().Err(err).Msg("Failed to write Arrow response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
