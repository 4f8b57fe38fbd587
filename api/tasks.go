package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/board"
	"taskboard-api/domain"
	"taskboard-api/query"
)

// getTasks serves both the user-wide and the per-list task query.
func getTasks(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newTaskQueryMetrics(c.Request().Context(), logger, c.Path())
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		if d, ok := c.Get(authDurationKey).(time.Duration); ok {
			metrics.ObserveAuth(d)
		}

		var listID string
		if c.Param("listId") != "" {
			if listID, err = pathID(c, "listId"); err != nil {
				metrics.SetErrorStage("invalid_list_id")
				return writeError(c, logger, err)
			}
		}
		params, perr := queryParams(c)
		if perr != nil {
			metrics.SetErrorStage("invalid_query")
			return writeError(c, logger, perr)
		}
		metrics.SetFiltered(params.Search != "" || params.Status != "" || params.Priority != nil ||
			len(params.Tags) > 0 || params.Due != query.DueAny)

		queryStart := time.Now()
		res, qerr := b.QueryTasks(ctx, currentUser(c), listID, params)
		metrics.ObserveQuery(time.Since(queryStart))
		if qerr != nil {
			metrics.SetErrorStage("query")
			return writeError(c, logger, qerr)
		}
		metrics.SetResult(len(res.Items), res.Total, res.Page)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, res)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func queryParams(c echo.Context) (query.Params, error) {
	p := query.Params{
		Search: strings.TrimSpace(c.QueryParam("q")),
		Status: domain.Status(strings.TrimSpace(c.QueryParam("status"))),
		Due:    query.DueBucket(strings.TrimSpace(c.QueryParam("due"))),
		Sort:   strings.TrimSpace(c.QueryParam("sort")),
	}
	for _, raw := range c.QueryParams()["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				p.Tags = append(p.Tags, tag)
			}
		}
	}
	if v := strings.TrimSpace(c.QueryParam("priority")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return query.Params{}, fmt.Errorf("%w: priority must be a number", query.ErrInvalidQuery)
		}
		p.Priority = &n
	}
	if v := strings.TrimSpace(c.QueryParam("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return query.Params{}, fmt.Errorf("%w: page must be a number", query.ErrInvalidQuery)
		}
		p.Page = n
	}
	if v := strings.TrimSpace(c.QueryParam("pageSize")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return query.Params{}, fmt.Errorf("%w: pageSize must be a number", query.ErrInvalidQuery)
		}
		p.PageSize = query.ClampPageSize(n)
	}
	return p, nil
}

func postTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		listID, err := pathID(c, "listId")
		if err != nil {
			return writeError(c, logger, err)
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		afterID, err := optionalID(req.AfterID, "afterId")
		if err != nil {
			return writeError(c, logger, err)
		}
		in := domain.TaskInput{
			Title:       req.Title,
			Description: req.Description,
			Priority:    req.Priority,
			Tags:        req.Tags,
		}
		if req.DueDate != nil {
			due, err := parseDueDate(*req.DueDate)
			if err != nil {
				return writeError(c, logger, err)
			}
			in.DueDate = &due
		}
		t, err := b.CreateTask(c.Request().Context(), currentUser(c), listID, in, afterID)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func (r patchTaskRequest) toPatch() (domain.TaskPatch, error) {
	p := domain.TaskPatch{
		Title:    r.Title,
		Priority: r.Priority,
		Tags:     r.Tags,
	}
	if r.Status != nil {
		st := domain.Status(*r.Status)
		p.Status = &st
	}
	if r.Description.Set {
		p.Description = r.Description.Value
		p.ClearDescription = r.Description.Value == nil
	}
	if r.DueDate.Set {
		if r.DueDate.Value == nil {
			p.ClearDueDate = true
		} else {
			due, err := parseDueDate(*r.DueDate.Value)
			if err != nil {
				return domain.TaskPatch{}, err
			}
			p.DueDate = &due
		}
	}
	return p, nil
}

func patchTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		taskID, err := pathID(c, "taskId")
		if err != nil {
			return writeError(c, logger, err)
		}
		var req patchTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		patch, err := req.toPatch()
		if err != nil {
			return writeError(c, logger, err)
		}
		t, err := b.PatchTask(c.Request().Context(), currentUser(c), taskID, patch)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		taskID, err := pathID(c, "taskId")
		if err != nil {
			return writeError(c, logger, err)
		}
		if err := b.DeleteTask(c.Request().Context(), currentUser(c), taskID); err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}
}

func moveTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		taskID, err := pathID(c, "taskId")
		if err != nil {
			return writeError(c, logger, err)
		}
		var req moveTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		listID, err := parseID(req.TargetListID, "targetListId")
		if err != nil {
			return writeError(c, logger, err)
		}
		afterID, err := optionalID(req.AfterTaskID, "afterTaskId")
		if err != nil {
			return writeError(c, logger, err)
		}
		t, err := b.MoveTask(c.Request().Context(), currentUser(c), taskID, board.MoveRequest{ListID: listID, AfterID: afterID})
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func reorderTasks(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		listID, err := pathID(c, "listId")
		if err != nil {
			return writeError(c, logger, err)
		}
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		if _, err := b.ReorderTasks(c.Request().Context(), currentUser(c), listID, req.toBoard()); err != nil {
			return writeError(c, logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
