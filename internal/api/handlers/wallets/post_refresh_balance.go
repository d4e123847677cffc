package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

func PostRefreshBalanceRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.POST("/:id/refresh-balance", postRefreshBalanceHandler(s))
}

func postRefreshBalanceHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		wallet, err := s.App.Registry.RefreshBalance(ctx, c.Param("id"))
		if err != nil {
			log.Debug().Err(err).Str("wallet_id", c.Param("id")).Msg("Failed to refresh balance")
			return api.DomainError(err)
		}
		return c.JSON(http.StatusOK, wallet)
	}
}
