package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/metrics"
	"github.com/bugtrackr/realtime/internal/registry"
	"github.com/bugtrackr/realtime/internal/session"
)

// Resolver authenticates a handshake request. Anonymous results reject
// the connection with CloseAuthRequired.
type Resolver interface {
	Resolve(ctx context.Context, req *http.Request) session.Identity
}

// AccessChecker optionally gates project joins beyond authentication.
// A nil checker admits every authenticated identity, which matches the
// upstream behavior this layer replaces.
type AccessChecker func(ctx context.Context, identity session.Identity, projectID string) bool

// Options tune per-connection behavior.
type Options struct {
	SendBufferSize int
	IdleTimeout    time.Duration
	AllowedOrigins []string
	Access         AccessChecker
}

// Handler accepts connections on /ws/project/{id}/ and runs one Conn
// per upgrade.
type Handler struct {
	reg      registry.Registry
	resolver Resolver
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHandler(reg registry.Registry, resolver Resolver, opts Options, log *zap.Logger) *Handler {
	h := &Handler{
		reg:      reg,
		resolver: resolver,
		opts:     opts,
		log:      log.With(zap.String("module", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return h.originAllowed(r.Header.Get("Origin")) },
	}
	return h
}

func (h *Handler) originAllowed(origin string) bool {
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == host {
			return true
		}
	}
	h.log.Warn("rejected origin", zap.String("origin", origin))
	return false
}

// projectIDFromPath parses /ws/project/{id}/ with an optional trailing
// slash. Empty ids are rejected.
func projectIDFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/ws/project/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	// Resolve before the upgrade: the lookup only needs the request,
	// and a slow session store then delays just this handshake.
	identity := h.resolver.Resolve(r.Context(), r)

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	if identity.Anonymous() {
		metrics.AuthRejections.Inc()
		h.log.Info("rejecting unauthenticated connection",
			zap.String("project_id", projectID),
			zap.String("remote_addr", r.RemoteAddr))
		h.reject(sock, CloseAuthRequired, closeReasonAuth)
		return
	}

	if h.opts.Access != nil && !h.opts.Access(r.Context(), identity, projectID) {
		metrics.AuthRejections.Inc()
		h.log.Info("rejecting connection without project access",
			zap.String("project_id", projectID),
			zap.String("user", identity.Username))
		h.reject(sock, CloseAuthRequired, closeReasonAuth)
		return
	}

	conn := newConn(uuid.NewString(), projectID, identity, sock, h.reg, h.opts.SendBufferSize, h.opts.IdleTimeout, h.log)
	h.log.Info("connection authenticated",
		zap.String("conn_id", conn.id),
		zap.String("project_id", projectID),
		zap.String("user", identity.Username),
		zap.String("remote_addr", r.RemoteAddr))
	conn.serve(r.Context())
}

func (h *Handler) reject(sock *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	if err := sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		h.log.Debug("failed to write rejection close frame", zap.Error(err))
	}
	if err := sock.Close(); err != nil {
		h.log.Debug("socket close after rejection", zap.Error(err))
	}
}
