package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type contextKey int

const identityKey contextKey = iota

// identityFrom returns the verified identity attached by the authentication
// middleware, if any.
func identityFrom(r *http.Request) (*Identity, bool) {
	id, ok := r.Context().Value(identityKey).(*Identity)
	return id, ok
}

func withIdentity(r *http.Request, id *Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, id))
}

// accessTokenFromRequest pulls the access token from the accessToken cookie,
// falling back to an Authorization bearer header for non-browser clients.
func accessTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("accessToken"); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func refreshTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("refreshToken"); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate verifies the access token and attaches the identity to the
// request context. Missing, malformed, or expired credentials are rejected
// here; business handlers never see an unauthenticated request.
func (a *App) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := accessTokenFromRequest(r)
		if raw == "" {
			writeKindError(w, ErrUnauthenticated)
			return
		}
		claims, err := a.Tokens.VerifyAccessToken(raw)
		if err != nil {
			writeKindError(w, err)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeKindError(w, fmt.Errorf("%w: bad subject: %v", ErrUnauthenticated, err))
			return
		}
		next.ServeHTTP(w, withIdentity(r, &Identity{UserID: userID, Role: claims.Role}))
	})
}

// ValidateRefreshToken authenticates a refresh-scoped request. Signature and
// expiry are checked before the store is consulted; the token is only
// accepted if its backing record still exists and belongs to the claimed
// subject. A rotated or logged-out token fails the record lookup.
func (a *App) ValidateRefreshToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := refreshTokenFromRequest(r)
		if raw == "" {
			writeKindError(w, ErrUnauthenticated)
			return
		}
		claims, err := a.Tokens.VerifyRefreshToken(raw)
		if err != nil {
			writeKindError(w, err)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeKindError(w, fmt.Errorf("%w: bad subject: %v", ErrUnauthenticated, err))
			return
		}
		recordID, err := strconv.ParseInt(claims.RecordID, 10, 64)
		if err != nil {
			writeKindError(w, fmt.Errorf("%w: bad record id: %v", ErrUnauthenticated, err))
			return
		}
		rec, err := a.DB.GetRefreshToken(recordID)
		if err != nil {
			writeKindError(w, fmt.Errorf("%w: refresh token lookup: %v", ErrPersistence, err))
			return
		}
		if rec == nil || rec.UserID != userID {
			writeKindError(w, ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, withIdentity(r, &Identity{UserID: userID, Role: claims.Role, RefreshRecordID: recordID}))
	})
}

// ParseRefreshToken runs after Authenticate on the logout path. It verifies
// the refresh cookie's signature and expiry to learn which record to revoke,
// without a store lookup: the delete itself is idempotent.
func (a *App) ParseRefreshToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identityFrom(r)
		if !ok {
			writeKindError(w, ErrUnauthenticated)
			return
		}
		raw := refreshTokenFromRequest(r)
		if raw == "" {
			writeKindError(w, ErrUnauthenticated)
			return
		}
		claims, err := a.Tokens.VerifyRefreshToken(raw)
		if err != nil {
			writeKindError(w, err)
			return
		}
		recordID, err := strconv.ParseInt(claims.RecordID, 10, 64)
		if err != nil {
			writeKindError(w, fmt.Errorf("%w: bad record id: %v", ErrUnauthenticated, err))
			return
		}
		enriched := *id
		enriched.RefreshRecordID = recordID
		next.ServeHTTP(w, withIdentity(r, &enriched))
	})
}

// CanAccess gates a route to the given roles. It assumes Authenticate already
// ran; denial is 403, distinct from the 401 of a failed authentication.
func (a *App) CanAccess(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFrom(r)
			if !ok {
				writeKindError(w, ErrUnauthenticated)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeKindError(w, ErrForbidden)
		})
	}
}

// RateLimiter implements per-client-IP rate limiting for the credential
// endpoints.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	perMin   int
	mu       sync.RWMutex
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMinute,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[ip]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[ip]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rl.perMin)/60, rl.perMin)
			rl.limiters[ip] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimit throttles register/login attempts per client IP.
func (a *App) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !a.rateLimiter.getLimiter(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Printf("[%s] %s %s %d %v", r.Method, r.URL.Path, r.RemoteAddr, wrapped.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
