package requests

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// RejectRequestRequest 拒绝签名请求的请求体
type RejectRequestRequest struct {
	Reason string `json:"reason"`
}

func PostRejectRequestRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Request.POST("/:id/reject", postRejectRequestHandler(s))
}

func postRejectRequestHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body RejectRequestRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		if err := s.App.Coordinator.RejectRequest(ctx, c.Param("id"), body.Reason); err != nil {
			log.Debug().Err(err).Str("request_id", c.Param("id")).Msg("Failed to reject signing request")
			return api.DomainError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
