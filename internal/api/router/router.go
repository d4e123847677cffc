package router

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api/handlers"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Init 初始化 echo 实例、中间件与全部路由
func Init(s *api.Server) {
	s.Echo = echo.New()
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestID())

	s.Router = &api.Router{
		Root:         s.Echo.Group(""),
		Management:   s.Echo.Group("/-"),
		APIV1Wallets: s.Echo.Group("/api/v1/wallets"),
		APIV1Signers: s.Echo.Group("/api/v1/signers"),
		APIV1Session: s.Echo.Group("/api/v1/sessions"),
		APIV1Request: s.Echo.Group("/api/v1/requests"),
	}

	s.Router.Management.GET("/healthy", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	s.Router.Management.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.Router.Routes = handlers.AttachAllRoutes(s)
}
