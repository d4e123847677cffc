package signers

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func GetListSignersRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Signers.GET("", getListSignersHandler(s))
}

func getListSignersHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.App.ListSigners())
	}
}
