// Package httprpc is the plain HTTP transport for a pushrpc server. It
// accepts POSTed request messages and writes the dispatch result back on
// the same exchange. HTTP requests carry no connection, so subscriptions
// and pushes are not available on this transport; use wsrpc for those.
package httprpc

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"

	"github.com/pushrpc/pushrpc"
	"github.com/pushrpc/pushrpc/internal/logctx"
)

const defaultBodyLimit = 1 << 20 // 1 MiB

var jsonMediaType = contenttype.NewMediaType("application/json")

// Handler serves JSON-RPC over plain HTTP POST.
type Handler struct {
	server    *pushrpc.Server
	log       *slog.Logger
	bodyLimit int64
}

var _ http.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the slog handler used by the transport.
func WithLogger(h slog.Handler) Option {
	return func(hh *Handler) {
		if h != nil {
			hh.log = slog.New(logctx.Handler{Handler: h})
		}
	}
}

// WithBodyLimit caps the size of a request body.
func WithBodyLimit(n int64) Option {
	return func(hh *Handler) { hh.bodyLimit = n }
}

// New creates an HTTP transport for server.
func New(server *pushrpc.Server, opts ...Option) *Handler {
	h := &Handler{
		server:    server,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		bodyLimit: defaultBodyLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mt, err := contenttype.GetMediaType(r)
	if err != nil || !mt.Matches(jsonMediaType) {
		http.Error(w, "unsupported media type, expected application/json", http.StatusUnsupportedMediaType)
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err != nil {
		http.Error(w, "not acceptable, this endpoint produces application/json", http.StatusNotAcceptable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.bodyLimit+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.bodyLimit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	ctx := logctx.WithConnData(r.Context(), &logctx.ConnData{
		Transport:  "http",
		RemoteAddr: r.RemoteAddr,
	})

	resp := h.server.Handle(ctx, body, nil, bearerToken(r))

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		h.log.WarnContext(ctx, "failed to write response", slog.String("err", err.Error()))
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.URL.Query().Get("token")
}
