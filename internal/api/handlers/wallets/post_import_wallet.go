package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/registry"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ImportWalletRequest 导入对端共享钱包镜像请求体
//
// 记录由创建方导出（ID 保持创建方生成的值）；IsSelf 与聚合密钥字段
// 在服务端按本地身份重算，请求体里的值被忽略。
type ImportWalletRequest struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Participants []registry.Participant `json:"participants"`
}

func PostImportWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.POST("/import", postImportWalletHandler(s))
}

func postImportWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body ImportWalletRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if body.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "wallet id is required")
		}

		wallet, err := s.App.ImportWallet(ctx, &registry.SharedWallet{
			ID:           body.ID,
			Name:         body.Name,
			Description:  body.Description,
			Participants: body.Participants,
		})
		if err != nil {
			log.Debug().Err(err).Str("wallet_id", body.ID).Msg("Failed to import shared wallet")
			return api.DomainError(err)
		}
		return c.JSON(http.StatusCreated, wallet)
	}
}
