package sessions

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// RetrySessionResponse 重试后的新会话 ID
type RetrySessionResponse struct {
	SessionID string `json:"sessionId"`
}

func PostRetrySessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Session.POST("/:id/retry", postRetrySessionHandler(s))
}

func postRetrySessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		sessionID, err := s.App.Coordinator.RetrySession(ctx, c.Param("id"))
		if err != nil {
			log.Debug().Err(err).Str("session_id", c.Param("id")).Msg("Failed to retry session")
			return api.DomainError(err)
		}
		return c.JSON(http.StatusCreated, RetrySessionResponse{SessionID: sessionID})
	}
}
