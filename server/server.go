// Package server exposes a store over HTTP with fasthttp.
//
// Routes:
//
//	POST   /set          {"key": "k", "value": "v", "ttl": 30}   ttl in seconds, optional
//	GET    /get?key=k    {"key": "k", "value": "v"}
//	DELETE /remove?key=k
//	GET    /snapshot     [{"key": ..., "value": ..., "expiresAt": ..., "lastAccessed": ...}]
//	GET    /metrics      Prometheus exposition, when a Gatherer is configured
package server

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/store"
)

// HeaderRequestID carries the per-request identifier.
const HeaderRequestID = "X-Request-ID"

// Options configures the HTTP front-end. Zero timeouts mean none.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int

	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server translates HTTP requests into store operations.
type Server struct {
	kv      store.Store
	log     *zap.Logger
	metrics fasthttp.RequestHandler
	srv     *fasthttp.Server
}

// New builds a Server for kv.
func New(kv store.Store, opt Options) *Server {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	s := &Server{kv: kv, log: opt.Logger.Named("http")}
	if opt.Gatherer != nil {
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(opt.Gatherer, promhttp.HandlerOpts{}))
	}
	s.srv = &fasthttp.Server{
		Name:               "fastkv",
		Handler:            s.Handler(),
		ReadTimeout:        opt.ReadTimeout,
		WriteTimeout:       opt.WriteTimeout,
		IdleTimeout:        opt.IdleTimeout,
		MaxRequestBodySize: opt.MaxBodySize,
		CloseOnShutdown:    true,
	}
	return s
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("HTTP server listening", zap.String("address", ln.Addr().String()))
	return s.srv.Serve(ln)
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "server: listen")
	}
	return s.Serve(ln)
}

// Shutdown stops accepting and waits for open requests, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.ShutdownWithContext(ctx); err != nil {
		return errors.Wrap(err, "server: shutdown")
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// Handler returns the routed handler wrapped with request IDs, access
// logging and panic recovery.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.middleware(s.route)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/set":
		s.only(ctx, fasthttp.MethodPost, s.handleSet)
	case "/get":
		s.only(ctx, fasthttp.MethodGet, s.handleGet)
	case "/remove":
		s.only(ctx, fasthttp.MethodDelete, s.handleRemove)
	case "/snapshot":
		s.only(ctx, fasthttp.MethodGet, s.handleSnapshot)
	case "/metrics":
		if s.metrics == nil {
			ctx.Error("Not found", fasthttp.StatusNotFound)
			return
		}
		s.only(ctx, fasthttp.MethodGet, s.metrics)
	default:
		ctx.Error("Not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) only(ctx *fasthttp.RequestCtx, method string, h fasthttp.RequestHandler) {
	if string(ctx.Method()) != method {
		ctx.Response.Header.Set(fasthttp.HeaderAllow, method)
		ctx.Error("Method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	h(ctx)
}

func (s *Server) middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(HeaderRequestID))
		if id == "" {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set(HeaderRequestID, id)
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				s.log.Error("handler panicked",
					zap.String("request_id", id),
					zap.Any("panic", r))
				ctx.Error("Internal error", fasthttp.StatusInternalServerError)
			}
			s.log.Debug("request served",
				zap.String("request_id", id),
				zap.String("method", string(ctx.Method())),
				zap.String("path", string(ctx.Path())),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("took", time.Since(start)))
		}()

		next(ctx)
	}
}
