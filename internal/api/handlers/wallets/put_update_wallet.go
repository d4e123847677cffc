package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

// UpdateWalletRequest 更新钱包名称/描述请求体
type UpdateWalletRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func PutUpdateWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.PUT("/:id", putUpdateWalletHandler(s))
}

func putUpdateWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body UpdateWalletRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		wallet, err := s.App.Registry.Rename(ctx, c.Param("id"), body.Name, body.Description)
		if err != nil {
			return api.DomainError(err)
		}
		return c.JSON(http.StatusOK, wallet)
	}
}
