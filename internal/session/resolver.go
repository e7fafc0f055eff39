package session

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	queryParam = "session_key"
	cookieName = "sessionid"
)

// TokenFromRequest extracts the session token from the handshake
// request: the session_key query parameter first, then the sessionid
// cookie. Returns "" when neither is present.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(queryParam); token != "" {
		return token
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// Resolver turns handshake credentials into an identity, or Anonymous
// when the token is absent or cannot be resolved. Store lookups are
// capped by a concurrency limit and a per-lookup timeout so a slow
// session store degrades connections to Anonymous instead of stalling
// the accept path.
type Resolver struct {
	store   Store
	dir     Directory
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *zap.Logger
}

func NewResolver(store Store, dir Directory, maxConcurrent int64, timeout time.Duration, log *zap.Logger) *Resolver {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{
		store:   store,
		dir:     dir,
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
		log:     log.With(zap.String("module", "session")),
	}
}

// Resolve never fails hard: every error path yields the anonymous
// identity and the caller decides how to close the connection.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) Identity {
	token := TokenFromRequest(req)
	if token == "" {
		return Identity{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.log.Warn("session lookup queue full or timed out", zap.Error(err))
		return Identity{}
	}
	defer r.sem.Release(1)

	userID, err := r.store.LookupSession(ctx, token)
	if err != nil {
		r.log.Debug("session token did not resolve", zap.Error(err))
		return Identity{}
	}

	identity, err := r.dir.LookupUser(ctx, userID)
	if err != nil {
		r.log.Warn("session resolved to unknown user",
			zap.String("user_id", userID),
			zap.Error(err))
		return Identity{}
	}
	return identity
}
