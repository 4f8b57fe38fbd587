package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	userIDKey       = "userID"
	authDurationKey = "authDuration"

	headerIdempotencyKey = "Idempotency-Key"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid gzip body"})
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// requireUser authenticates the bearer token and stores the caller's ID in
// the echo context.
func requireUser(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			token, err := bearerTokenFromHeader(c.Request().Header)
			var userID string
			if err == nil {
				userID, err = auth.UserIDFromBearer(token)
			}
			c.Set(authDurationKey, time.Since(start))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, messageResponse{Message: "unauthorized"})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

// idempotent rejects a repeated Idempotency-Key of the same user with 409.
// The key is released again when the request fails so the client may retry.
func idempotent(deduper Deduper, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
			if deduper == nil || key == "" || c.Request().Method != http.MethodPost {
				return next(c)
			}
			ctx := c.Request().Context()
			userID := currentUser(c)

			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				logger.WithError(err).Warn("idempotency check failed; processing anyway")
				return next(c)
			}
			if !added {
				return c.JSON(http.StatusConflict, messageResponse{Message: "duplicate request"})
			}

			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					logger.WithError(rerr).WithField("key", key).Warn("idempotency key release failed")
				}
			}
			return err
		}
	}
}
