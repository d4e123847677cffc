package requests

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func GetListRequestsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Request.GET("", getListRequestsHandler(s))
}

func getListRequestsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if walletID := c.QueryParam("walletId"); walletID != "" {
			return c.JSON(http.StatusOK, s.App.Ledger.PendingForWallet(walletID))
		}
		return c.JSON(http.StatusOK, s.App.Ledger.List())
	}
}
