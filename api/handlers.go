package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const healthTimeout = 3 * time.Second

// Deps are the collaborators of the HTTP routes. Deduper and Stream may be nil.
type Deps struct {
	Board    Board
	Accounts Accounts
	Auth     Authenticator
	Deduper  Deduper
	Stream   Subscriber
	Health   Pinger
	Log      *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Log == nil {
		panic("api: nil logger")
	}
	g := e.Group("/api")
	authed := []echo.MiddlewareFunc{requireUser(d.Auth), idempotent(d.Deduper, d.Log)}

	g.GET("/health", health())
	g.GET("/health/db", healthDB(d.Health, d.Log))

	g.POST("/auth/register", register(d.Accounts, d.Log))
	g.POST("/auth/login", login(d.Accounts, d.Log))
	g.POST("/auth/refresh", refresh(d.Accounts, d.Log))
	g.POST("/auth/logout", logout(d.Accounts, d.Log), authed...)
	g.GET("/me", me(d.Accounts, d.Log), authed...)

	g.GET("/lists", getLists(d.Board, d.Log), authed...)
	g.POST("/lists", postList(d.Board, d.Log), authed...)
	g.POST("/lists/reorder", reorderLists(d.Board, d.Log), authed...)
	g.PATCH("/lists/:listId", patchList(d.Board, d.Log), authed...)
	g.DELETE("/lists/:listId", deleteList(d.Board, d.Log), authed...)

	g.GET("/tasks", getTasks(d.Board, d.Log), authed...)
	g.GET("/lists/:listId/tasks", getTasks(d.Board, d.Log), authed...)
	g.POST("/lists/:listId/tasks", postTask(d.Board, d.Log), authed...)
	g.POST("/lists/:listId/tasks/reorder", reorderTasks(d.Board, d.Log), authed...)
	g.PATCH("/tasks/:taskId", patchTask(d.Board, d.Log), authed...)
	g.DELETE("/tasks/:taskId", deleteTask(d.Board, d.Log), authed...)
	g.POST("/tasks/:taskId/move", moveTask(d.Board, d.Log), authed...)

	if d.Stream != nil {
		g.GET("/events", streamEvents(d.Stream, d.Auth, d.Log))
	}
}

type dbHealthResponse struct {
	DB string `json:"db"`
}

func health() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}
}

func healthDB(store Pinger, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.WithError(err).Warn("database health check failed")
			return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "database unavailable"})
		}
		return c.JSON(http.StatusOK, dbHealthResponse{DB: "ok"})
	}
}

// pathID reads a UUID path parameter.
func pathID(c echo.Context, name string) (string, error) {
	return parseID(c.Param(name), name)
}

func parseID(raw, name string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a uuid", domain.ErrValidation, name)
	}
	return id.String(), nil
}

// optionalID parses an anchor that may be absent or null.
func optionalID(raw *string, name string) (string, error) {
	if raw == nil || *raw == "" {
		return "", nil
	}
	return parseID(*raw, name)
}

func parseDueDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: dueDate must be an RFC 3339 timestamp", domain.ErrValidation)
	}
	return t.UTC(), nil
}
