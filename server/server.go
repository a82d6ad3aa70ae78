// Package server exposes the pods over HTTP. One computation runs at a time.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/detector"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/pods"
	"github.com/openfluke/gpuscan/scan"
	"github.com/openfluke/gpuscan/substrate"
)

// DefaultMaxBodyBytes bounds request bodies when Options.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 64 << 20

type Server struct {
	sub      substrate.Substrate
	scan     pods.ScanPod
	conv     pods.ConvolutionPod
	report   *detector.Report
	programs *pods.Programs
	maxBody  int64
	log      logger.Logger

	// the substrate queue is shared, so requests are serialised
	mu sync.Mutex
}

type Options struct {
	Scan        pods.ScanPod
	Convolution pods.ConvolutionPod
	// Report describes sub. It is derived from sub.Info when nil.
	Report       *detector.Report
	MaxBodyBytes int64
	Log          logger.Logger
}

// New builds the scan and convolution kernels on sub once; requests reuse
// them.
func New(ctx context.Context, sub substrate.Substrate, opts Options) (*Server, error) {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Report == nil {
		opts.Report = detector.FromInfo(sub.Info())
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		sub:      sub,
		scan:     opts.Scan,
		conv:     opts.Convolution,
		report:   opts.Report,
		programs: pods.NewPrograms(),
		maxBody:  opts.MaxBodyBytes,
		log:      opts.Log,
	}

	x := s.exec(logger.WithContext(ctx, s.log))
	if err := s.scan.Prepare(x); err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}
	if err := s.conv.Prepare(x); err != nil {
		return nil, fmt.Errorf("build convolution: %w", err)
	}
	return s, nil
}

func (s *Server) exec(ctx context.Context) *pods.ExecContext {
	return pods.NewContext(ctx, s.sub).WithReport(s.report).WithPrograms(s.programs)
}

type ScanRequest struct {
	Values []float32 `json:"values"`
}

type ScanResponse struct {
	ID         string    `json:"id"`
	Values     []float32 `json:"values"`
	Capacity   int       `json:"capacity"`
	Dispatches int       `json:"dispatches"`
}

type ReduceRequest struct {
	Kind   string    `json:"kind"`
	Values []float32 `json:"values"`
}

type ReduceResponse struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Value float32 `json:"value"`
}

type ConvolveRequest struct {
	N     int       `json:"n"`
	M     int       `json:"m"`
	Input []float32 `json:"input"`
	Mask  []float32 `json:"mask"`
}

type ConvolveResponse struct {
	ID     string    `json:"id"`
	N      int       `json:"n"`
	Values []float32 `json:"values"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) Register(e *echo.Echo) {
	g := e.Group("/v1", middleware.BodyLimit(s.maxBody))
	g.POST("/scan", s.handleScan)
	g.POST("/reduce", s.handleReduce)
	g.POST("/convolve", s.handleConvolve)
	g.GET("/schedule", s.handleSchedule)
	g.GET("/device", s.handleDevice)
}

func (s *Server) handleScan(c *echo.Context) error {
	req, err := decodeJSON[ScanRequest](c.Request().Body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	buf, err := buffer.FromValues(req.Values, s.scan.Operator.Identity)
	if err != nil {
		return writeError(c, statusFor(err), err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	x := s.exec(logger.WithContext(c.Request().Context(), s.log))
	out, err := s.scan.Run(x, pods.ScanIn{Buffer: buf})
	if err != nil {
		s.log.Error("scan failed", "run_id", x.RunID, "error", err)
		return writeError(c, statusFor(err), err.Error())
	}
	so := out.(pods.ScanOut)
	return c.JSON(http.StatusOK, ScanResponse{
		ID:         so.RunID,
		Values:     so.Buffer.Values(),
		Capacity:   so.Buffer.Cap(),
		Dispatches: so.Schedule.Len(),
	})
}

// handleReduce runs the registered reduce pod.
func (s *Server) handleReduce(c *echo.Context) error {
	req, err := decodeJSON[ReduceRequest](c.Request().Body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	if _, err := substrate.ParseOperator(req.Kind); err != nil {
		return writeError(c, http.StatusBadRequest, err.Error())
	}
	// the identity of an empty max or min is infinite, which JSON cannot carry
	if len(req.Values) == 0 {
		return writeError(c, http.StatusBadRequest, "values: empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	x := s.exec(logger.WithContext(c.Request().Context(), s.log))
	out, err := pods.Run(x, pods.ReduceName, pods.ReduceIn{In: req.Values, Kind: req.Kind})
	if err != nil {
		s.log.Error("reduce failed", "run_id", x.RunID, "error", err)
		return writeError(c, statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, ReduceResponse{ID: x.RunID, Kind: req.Kind, Value: out.(pods.ReduceOut).Value})
}

func (s *Server) handleConvolve(c *echo.Context) error {
	req, err := decodeJSON[ConvolveRequest](c.Request().Body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	in, err := buffer.MatrixFrom(req.N, req.Input)
	if err != nil {
		return writeError(c, statusFor(err), "input: "+err.Error())
	}
	mask, err := buffer.MatrixFrom(req.M, req.Mask)
	if err != nil {
		return writeError(c, statusFor(err), "mask: "+err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	x := s.exec(logger.WithContext(c.Request().Context(), s.log))
	out, err := s.conv.Run(x, pods.ConvolveIn{Input: in, Mask: mask})
	if err != nil {
		s.log.Error("convolution failed", "run_id", x.RunID, "error", err)
		return writeError(c, statusFor(err), err.Error())
	}
	co := out.(pods.ConvolveOut)
	return c.JSON(http.StatusOK, ConvolveResponse{ID: co.RunID, N: co.Result.Size(), Values: co.Result.Raw()})
}

func (s *Server) handleSchedule(c *echo.Context) error {
	capacity, err := strconv.Atoi(c.QueryParam("capacity"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "capacity: "+err.Error())
	}
	wg := scan.DefaultWorkgroup
	if v := c.QueryParam("workgroup"); v != "" {
		if wg, err = strconv.Atoi(v); err != nil {
			return writeError(c, http.StatusBadRequest, "workgroup: "+err.Error())
		}
	}
	sched, err := scan.Plan(capacity, wg)
	if err != nil {
		return writeError(c, statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) handleDevice(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.report)
}

// statusFor maps input errors to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, buffer.ErrInvalidSize),
		errors.Is(err, buffer.ErrParse),
		errors.Is(err, scan.ErrInvalidCapacity),
		errors.Is(err, scan.ErrPaddingNotIdentity),
		errors.Is(err, pods.ErrBadInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
