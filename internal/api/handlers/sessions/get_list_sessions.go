package sessions

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func GetListSessionsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Session.GET("", getListSessionsHandler(s))
}

func getListSessionsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.App.Coordinator.ListSessions())
	}
}
