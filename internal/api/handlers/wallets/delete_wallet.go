package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func DeleteWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.DELETE("/:id", deleteWalletHandler(s))
}

func deleteWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.App.Registry.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return api.DomainError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
