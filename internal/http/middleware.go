package http

import (
	"context"
	"fmt"
	"math"
	"net"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader    = "X-Request-ID"
	rateLimitMessage   = "Too many requests to the local growi client. Please wait a moment and try again."
	sentryFlushTimeout = 2 * time.Second
)

type contextKey string

const requestIDContextKey contextKey = "growi-client/request-id"

// RequestIDFromContext returns the id assigned to the current request, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// requestScope gives every request an id and, when reporting is enabled, its own Sentry hub.
// A caller supplied X-Request-ID is kept when it is a uuid so editor hosts can correlate logs.
func (s *Server) requestScope(ctx huma.Context, next func(huma.Context)) {
	id := strings.TrimSpace(ctx.Header(requestIDHeader))
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	ctx.SetHeader(requestIDHeader, id)

	goCtx := context.WithValue(ctx.Context(), requestIDContextKey, id)
	if s.sentry != nil {
		hub := s.sentry.Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("request_id", id)
			scope.SetTag("http.method", ctx.Method())
			if op := ctx.Operation(); op != nil {
				scope.SetTag("http.route", op.Path)
			}
		})
		goCtx = sentry.SetHubOnContext(goCtx, hub)
		defer hub.Flush(sentryFlushTimeout)
	}

	next(huma.WithContext(ctx, goCtx))
}

// recoverPanics turns a handler panic into a 500 and reports it.
func (s *Server) recoverPanics(ctx huma.Context, next func(huma.Context)) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		err, ok := rec.(error)
		if ok {
			err = eris.Wrap(err, "panic")
		} else {
			err = eris.New(fmt.Sprintf("panic: %v", rec))
		}
		s.recordError(ctx.Context(), err, "panic recovered", logrus.Fields{"method": ctx.Method()})

		_ = huma.WriteErr(s.api, ctx, stdhttp.StatusInternalServerError, "internal server error")
	}()

	next(ctx)
}

// limitRate answers 429 with a Retry-After derived from the bucket refill time.
func (s *Server) limitRate(ctx huma.Context, next func(huma.Context)) {
	req, _ := humago.Unwrap(ctx)
	if s.rateLimiter == nil || req == nil {
		next(ctx)
		return
	}

	ip := remoteIP(req)
	allowed, wait := s.rateLimiter.Take(ip)
	if allowed {
		next(ctx)
		return
	}

	retryAfter := max(1, int(math.Ceil(wait.Seconds())))
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"ip":          ip,
			"path":        req.URL.Path,
			"retry_after": retryAfter,
			"request_id":  RequestIDFromContext(ctx.Context()),
		}).Warn("request rate limited")
	}

	ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))
	if err := huma.WriteErr(s.api, ctx, stdhttp.StatusTooManyRequests, rateLimitMessage); err != nil {
		s.recordError(ctx.Context(), err, "writing rate limit response failed", logrus.Fields{"ip": ip})
	}
}

// accessLog writes one entry per request. Health probes log at debug.
func (s *Server) accessLog(ctx huma.Context, next func(huma.Context)) {
	if s.logger == nil {
		next(ctx)
		return
	}

	start := time.Now()
	next(ctx)

	status := ctx.Status()
	if status == 0 {
		status = stdhttp.StatusOK
	}

	fields := logrus.Fields{
		"method":      ctx.Method(),
		"status":      status,
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		"request_id":  RequestIDFromContext(ctx.Context()),
	}
	route := ""
	if op := ctx.Operation(); op != nil {
		route = op.Path
		fields["route"] = route
	}
	if req, _ := humago.Unwrap(ctx); req != nil {
		fields["remote_addr"] = req.RemoteAddr
		if page := pageFromQuery(req); page != "" {
			fields["page"] = page
		}
	}

	entry := s.logger.WithFields(fields)
	switch {
	case status >= stdhttp.StatusInternalServerError:
		entry.Error("request failed")
	case status >= stdhttp.StatusBadRequest:
		entry.Warn("request rejected")
	case route == "/healthz":
		entry.Debug("request completed")
	default:
		entry.Info("request completed")
	}
}

// remoteIP is the peer address. Forwarding headers are ignored since the API only listens
// for a local editor host.
func remoteIP(req *stdhttp.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// pageFromQuery names the page a request is about, from either the path or the locator parameter.
func pageFromQuery(req *stdhttp.Request) string {
	query := req.URL.Query()
	if page := strings.TrimSpace(query.Get("path")); page != "" {
		return page
	}
	return strings.TrimSpace(query.Get("locator"))
}
