package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/board"
	"taskboard-api/domain"
)

func getLists(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		lists, err := b.Lists(c.Request().Context(), currentUser(c))
		if err != nil {
			return writeError(c, logger, err)
		}
		if lists == nil {
			lists = []domain.List{}
		}
		return c.JSON(http.StatusOK, lists)
	}
}

func postList(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createListRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		afterID, err := optionalID(req.AfterID, "afterId")
		if err != nil {
			return writeError(c, logger, err)
		}
		l, err := b.CreateList(c.Request().Context(), currentUser(c), req.Title, afterID)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, l)
	}
}

func patchList(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		listID, err := pathID(c, "listId")
		if err != nil {
			return writeError(c, logger, err)
		}
		var req patchListRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		l, err := b.PatchList(c.Request().Context(), currentUser(c), listID, domain.ListPatch{Title: req.Title})
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, l)
	}
}

func deleteList(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		listID, err := pathID(c, "listId")
		if err != nil {
			return writeError(c, logger, err)
		}
		if err := b.DeleteList(c.Request().Context(), currentUser(c), listID); err != nil {
			return writeError(c, logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (r reorderRequest) toBoard() board.ReorderRequest {
	return board.ReorderRequest{SourceIndex: r.SourceIndex, TargetIndex: r.TargetIndex, IDs: r.IDs}
}

func reorderLists(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		if _, err := b.ReorderLists(c.Request().Context(), currentUser(c), req.toBoard()); err != nil {
			return writeError(c, logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
