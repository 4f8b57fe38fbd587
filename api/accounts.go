package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

func register(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		tokens, err := accounts.Register(c.Request().Context(), req.Name, req.Email, req.Password)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, tokens)
	}
}

func login(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		tokens, err := accounts.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, tokens)
	}
}

func readRefreshToken(c echo.Context) (string, error) {
	var req refreshRequest
	if err := decodeBody(c, &req); err != nil {
		return "", err
	}
	if req.RefreshToken == "" {
		return "", fmt.Errorf("%w: refreshToken is required", domain.ErrValidation)
	}
	return req.RefreshToken, nil
}

func refresh(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := readRefreshToken(c)
		if err != nil {
			return writeError(c, logger, err)
		}
		tokens, err := accounts.Refresh(c.Request().Context(), token)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, tokens)
	}
}

func logout(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := readRefreshToken(c)
		if err != nil {
			return writeError(c, logger, err)
		}
		if err := accounts.Logout(c.Request().Context(), currentUser(c), token); err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}
}

func me(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, err := accounts.Me(c.Request().Context(), currentUser(c))
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, u)
	}
}
