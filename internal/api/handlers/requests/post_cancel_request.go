package requests

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func PostCancelRequestRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Request.POST("/:id/cancel", postCancelRequestHandler(s))
}

func postCancelRequestHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, err := s.App.Ledger.CancelOutbound(c.Param("id"))
		if err != nil {
			return api.DomainError(err)
		}
		return c.JSON(http.StatusOK, req)
	}
}
