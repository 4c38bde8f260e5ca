package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/erpdrive/internal/handler"
)

type Handlers struct {
	UserDocuments    *handler.DocumentHandler
	SessionDocuments *handler.DocumentHandler
	// Ledger is nil when no database is configured.
	Ledger *handler.LedgerHandler
}

type RouterOptions struct {
	DevMode      bool
	OriginSecret string
	FrontendURL  string
}

// Router routes API Gateway proxy requests to handlers.
type Router struct {
	h      Handlers
	opts   RouterOptions
	logger *zap.Logger
}

func NewRouter(h Handlers, opts RouterOptions, logger *zap.Logger) *Router {
	if opts.FrontendURL == "" {
		opts.FrontendURL = "http://localhost:3000"
	}
	return &Router{h: h, opts: opts, logger: logger}
}

type route func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// HandleRequest routes API Gateway requests to the appropriate handler.
func (r *Router) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")

	r.logger.Debug("request", zap.String("method", method), zap.String("path", path))

	if method == http.MethodOptions {
		return r.cors(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Only CloudFront knows the origin secret; DEV_MODE skips the check.
	if !r.opts.DevMode && !r.originVerified(req) {
		r.logger.Warn("missing or invalid X-Origin-Verify header", zap.String("path", path))
		return r.cors(handler.ErrorResponse(http.StatusForbidden, "FORBIDDEN", "access denied")), nil
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}
	if req.QueryStringParameters == nil {
		req.QueryStringParameters = make(map[string]string)
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	var fn route
	switch parts[0] {
	case "user-documents":
		fn = documentRoute(r.h.UserDocuments, method, parts[1:], req.PathParameters)
	case "session-documents":
		fn = documentRoute(r.h.SessionDocuments, method, parts[1:], req.PathParameters)
	case "expense-ledger":
		if r.h.Ledger != nil && method == http.MethodGet && len(parts) == 2 {
			req.PathParameters["userId"] = parts[1]
			fn = r.h.Ledger.MonthlyTotal
		}
	}

	if fn == nil {
		return r.cors(handler.ErrorResponse(http.StatusNotFound, "NOT_FOUND", "no route for "+method+" "+path)), nil
	}
	return r.cors(r.must(fn(ctx, req))), nil
}

// documentRoute maps a method and the path segments after the collection name to a handler.
func documentRoute(h *handler.DocumentHandler, method string, rest []string, params map[string]string) route {
	if h == nil {
		return nil
	}
	switch len(rest) {
	case 0:
		switch method {
		case http.MethodGet:
			return h.List
		case http.MethodPost:
			return h.Upload
		}
	case 1:
		params["id"] = rest[0]
		switch method {
		case http.MethodGet:
			return h.Download
		case http.MethodPatch:
			return h.Patch
		case http.MethodDelete:
			return h.Delete
		}
	case 2:
		params["id"] = rest[0]
		if rest[1] == "resync" && method == http.MethodPost {
			return h.Resync
		}
	}
	return nil
}

func (r *Router) originVerified(req events.APIGatewayProxyRequest) bool {
	if r.opts.OriginSecret == "" {
		return false
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Origin-Verify") {
			return v == r.opts.OriginSecret
		}
	}
	return false
}

// cors adds CORS headers to an API Gateway response.
func (r *Router) cors(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = r.opts.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS,PATCH"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must converts a handler error into a 500 response.
func (r *Router) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		r.logger.Error("handler error", zap.Error(err))
		return handler.ErrorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
	return resp
}
