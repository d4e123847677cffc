package sessions

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/labstack/echo/v4"
)

func GetSessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Session.GET("/:id", getSessionHandler(s))
}

func getSessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := s.App.Coordinator.GetSession(c.Param("id"))
		if err != nil {
			return api.DomainError(err)
		}
		return c.JSON(http.StatusOK, sess)
	}
}
