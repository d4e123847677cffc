package requests

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// AcceptRequestResponse 接受请求后加入的会话 ID
type AcceptRequestResponse struct {
	SessionID string `json:"sessionId"`
}

func PostAcceptRequestRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Request.POST("/:id/accept", postAcceptRequestHandler(s))
}

func postAcceptRequestHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		sessionID, err := s.App.Coordinator.AcceptRequest(ctx, c.Param("id"))
		if err != nil {
			log.Debug().Err(err).Str("request_id", c.Param("id")).Msg("Failed to accept signing request")
			return api.DomainError(err)
		}
		return c.JSON(http.StatusOK, AcceptRequestResponse{SessionID: sessionID})
	}
}
