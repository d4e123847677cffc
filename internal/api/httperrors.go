package api

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/registry"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/request"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/session"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// DomainError 将领域层哨兵错误映射为 HTTP 错误
func DomainError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, registry.ErrWalletNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, request.ErrRequestNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, session.ErrInsufficientFunds),
		errors.Is(err, session.ErrInvalidRecipient),
		errors.Is(err, session.ErrInvalidAmount),
		errors.Is(err, registry.ErrEmptyName),
		errors.Is(err, registry.ErrNoParticipants),
		errors.Is(err, registry.ErrSelfMissing),
		errors.Is(err, registry.ErrDuplicateSigner),
		errors.Is(err, request.ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, session.ErrSessionInProgress),
		errors.Is(err, session.ErrTerminalSession),
		errors.Is(err, session.ErrRetryNotAllowed),
		errors.Is(err, request.ErrNotPending),
		errors.Is(err, request.ErrNotOutbound),
		errors.Is(err, session.ErrRequestNotInbound):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
