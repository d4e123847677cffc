package wallets

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ProposeSpendRequest 共同花费提案请求体
type ProposeSpendRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	Purpose   string `json:"purpose"`
}

// ProposeSpendResponse 提案结果
type ProposeSpendResponse struct {
	SessionID string `json:"sessionId"`
}

func PostProposeSpendRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.POST("/:id/spend", postProposeSpendHandler(s))
}

func postProposeSpendHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body ProposeSpendRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		sessionID, err := s.App.Coordinator.ProposeSpend(ctx, c.Param("id"), body.Recipient, body.Amount, body.Fee, body.Purpose)
		if err != nil {
			log.Debug().Err(err).Str("wallet_id", c.Param("id")).Msg("Failed to propose spend")
			return api.DomainError(err)
		}
		return c.JSON(http.StatusCreated, ProposeSpendResponse{SessionID: sessionID})
	}
}
