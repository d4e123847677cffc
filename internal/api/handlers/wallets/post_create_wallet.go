package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/registry"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// CreateWalletRequest 创建共享钱包请求体
type CreateWalletRequest struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Participants []registry.Participant `json:"participants"`
}

func PostCreateWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.POST("", postCreateWalletHandler(s))
}

func postCreateWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body CreateWalletRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		wallet, err := s.App.Registry.Create(ctx, body.Name, body.Description, body.Participants)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to create shared wallet")
			return api.DomainError(err)
		}
		return c.JSON(http.StatusCreated, wallet)
	}
}
