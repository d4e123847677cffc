package sessions

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// AbortSessionRequest 中止签名会话请求体
type AbortSessionRequest struct {
	Reason string `json:"reason"`
}

func PostAbortSessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Session.POST("/:id/abort", postAbortSessionHandler(s))
}

func postAbortSessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body AbortSessionRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		if err := s.App.Coordinator.AbortSession(ctx, c.Param("id"), body.Reason); err != nil {
			log.Debug().Err(err).Str("session_id", c.Param("id")).Msg("Failed to abort session")
			return api.DomainError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
