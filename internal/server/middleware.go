package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/khaledrefaat/TaskSimple/internal/auth"
)

const userIDKey = "userID"

// requireAuth resolves the session token to a user id. A token close to
// expiry is re-issued on the same response.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokens := s.auth.Tokens()
		claims, err := tokens.Verify(auth.TokenFromRequest(c.Request()))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, response{Message: "Not authenticated"})
		}

		if tokens.ShouldRefresh(claims) {
			fresh, fc, err := tokens.Issue(claims.UserID)
			if err != nil {
				s.logger.Printf("Failed to refresh token: %v", err)
			} else {
				c.SetCookie(auth.SessionCookie(fresh, fc.ExpiresAt.Time, s.secure))
				c.Response().Header().Set(auth.RefreshHeader, fresh)
			}
		}

		c.Set(userIDKey, claims.UserID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func (s *Server) limitSignIn(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.signIn.Allow(c.RealIP()) {
			return c.JSON(http.StatusTooManyRequests, response{
				Message: "Too many sign-in attempts, try again later",
			})
		}
		return next(c)
	}
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.logger.Printf("%s %s %d %s", req.Method, req.URL.Path, c.Response().Status, time.Since(start).Round(time.Microsecond))
		return nil
	}
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// maxVisitors triggers pruning of idle buckets.
const maxVisitors = 1024

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether ip may make another attempt now.
func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.visitors) >= maxVisitors {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > l.ttl {
				delete(l.visitors, k)
			}
		}
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.limiter.AllowN(now, 1)
}
