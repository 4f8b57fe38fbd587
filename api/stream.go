package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const streamHeartbeat = 25 * time.Second

// Subscriber streams one user's board events.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan domain.Event, error)
}

// streamEvents pushes the caller's board events as server-sent events.
// Browsers cannot set headers on an EventSource, so the access token may
// also come in the token query parameter.
func streamEvents(sub Subscriber, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = bearerScheme + " " + token
			}
		}
		token, err := bearerTokenFromString(header)
		var userID string
		if err == nil {
			userID, err = auth.UserIDFromBearer(token)
		}
		if err != nil {
			return c.JSON(http.StatusUnauthorized, messageResponse{Message: "unauthorized"})
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: "stream unsupported"})
		}
		ctx := c.Request().Context()
		feed, err := sub.Subscribe(ctx, userID)
		if err != nil {
			return writeError(c, logger, fmt.Errorf("subscribe: %w", err))
		}

		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		w := c.Response()
		if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return nil
				}
			case ev, ok := <-feed:
				if !ok {
					return nil
				}
				data, err := sonic.Marshal(ev)
				if err != nil {
					logger.WithError(err).WithField("event", ev.ID).Error("encode stream event")
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	}
}
