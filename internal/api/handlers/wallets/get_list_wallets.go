package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func GetListWalletsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.GET("", getListWalletsHandler(s))
}

func getListWalletsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.App.Registry.List())
	}
}
