package signers

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/discovery"
	"github.com/labstack/echo/v4"
)

// DiscoverSignersRequest 触发一次定向发现广播
type DiscoverSignersRequest struct {
	Capability string `json:"capability"`
}

func PostDiscoverSignersRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Signers.POST("/discover", postDiscoverSignersHandler(s))
}

func postDiscoverSignersHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body DiscoverSignersRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		capability := discovery.CapabilityCoSign
		if body.Capability != "" {
			parsed, ok := discovery.ParseCapability(body.Capability)
			if !ok {
				return echo.NewHTTPError(http.StatusBadRequest, "unknown capability")
			}
			capability = parsed
		}

		if err := s.App.RequestSigners(ctx, capability); err != nil {
			return api.DomainError(err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}
