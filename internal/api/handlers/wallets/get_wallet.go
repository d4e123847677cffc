package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func GetWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.GET("/:id", getWalletHandler(s))
}

func getWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		wallet, err := s.App.Registry.Get(c.Param("id"))
		if err != nil {
			return api.DomainError(err)
		}
		return c.JSON(http.StatusOK, wallet)
	}
}
