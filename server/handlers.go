package server

import (
	"math"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/store"
)

type setRequest struct {
	Key   *string `json:"key"`
	Value *string `json:"value"`
	TTL   int64   `json:"ttl"`
}

type getResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type entryResponse struct {
	Key          string     `json:"key"`
	Value        string     `json:"value"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	LastAccessed time.Time  `json:"lastAccessed"`
}

func (s *Server) handleSet(ctx *fasthttp.RequestCtx) {
	var req setRequest
	if err := sonic.ConfigDefault.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid JSON", fasthttp.StatusBadRequest)
		return
	}
	if req.Key == nil || *req.Key == "" {
		ctx.Error("Missing key", fasthttp.StatusBadRequest)
		return
	}
	if req.Value == nil {
		ctx.Error("Missing value", fasthttp.StatusBadRequest)
		return
	}
	if req.TTL < 0 {
		ctx.Error("TTL must not be negative", fasthttp.StatusBadRequest)
		return
	}

	if err := s.kv.Set(*req.Key, *req.Value, ttlSeconds(req.TTL)); err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("Key set successfully")
}

func (s *Server) handleGet(ctx *fasthttp.RequestCtx) {
	key, ok := queryKey(ctx)
	if !ok {
		return
	}
	v, err := s.kv.Get(key)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.writeJSON(ctx, getResponse{Key: key, Value: v})
}

func (s *Server) handleRemove(ctx *fasthttp.RequestCtx) {
	key, ok := queryKey(ctx)
	if !ok {
		return
	}
	removed, err := s.kv.Remove(key)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if !removed {
		ctx.Error("Key not found", fasthttp.StatusNotFound)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("Key removed")
}

func (s *Server) handleSnapshot(ctx *fasthttp.RequestCtx) {
	entries := s.kv.Snapshot()
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = entryResponse{Key: e.Key, Value: e.Value, LastAccessed: e.LastAccessed}
		if !e.ExpiresAt.IsZero() {
			at := e.ExpiresAt
			out[i].ExpiresAt = &at
		}
	}
	s.writeJSON(ctx, out)
}

// ttlSeconds converts a non-negative TTL in seconds, saturating at the
// largest representable duration.
func ttlSeconds(secs int64) time.Duration {
	if secs > math.MaxInt64/int64(time.Second) {
		return math.MaxInt64
	}
	return time.Duration(secs) * time.Second
}

func queryKey(ctx *fasthttp.RequestCtx) (string, bool) {
	key := ctx.QueryArgs().Peek("key")
	if len(key) == 0 {
		ctx.Error("Missing key", fasthttp.StatusBadRequest)
		return "", false
	}
	return string(key), true
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	body, err := sonic.ConfigDefault.Marshal(v)
	if err != nil {
		s.fail(ctx, errors.Wrap(err, "encode response"))
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

// fail maps store errors onto status codes. Only unexpected failures are
// logged.
func (s *Server) fail(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		ctx.Error("Key not found", fasthttp.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTTL):
		ctx.Error("TTL must not be negative", fasthttp.StatusBadRequest)
	case errors.Is(err, store.ErrTimeout):
		ctx.Error("Request timed out", fasthttp.StatusGatewayTimeout)
	case errors.Is(err, store.ErrClosed):
		ctx.Error("Service unavailable", fasthttp.StatusServiceUnavailable)
	default:
		s.log.Error("request failed",
			zap.ByteString("request_id", ctx.Response.Header.Peek(HeaderRequestID)),
			zap.Error(err))
		ctx.Error("Internal error", fasthttp.StatusInternalServerError)
	}
}
