package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/app"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Router 管理 API 路由分组
type Router struct {
	Routes []*echo.Route

	Root         *echo.Group
	Management   *echo.Group
	APIV1Wallets *echo.Group
	APIV1Signers *echo.Group
	APIV1Session *echo.Group
	APIV1Request *echo.Group
}

// Server 管理 API 服务端，持有全部依赖
type Server struct {
	// Echo 与 Router 由 router.Init(s) 初始化
	Echo   *echo.Echo
	Router *Router

	Config config.Service
	App    *app.Service
}

// NewServer 创建管理 API 服务端
func NewServer(cfg config.Service, appService *app.Service) *Server {
	return &Server{
		Config: cfg,
		App:    appService,
	}
}

// Ready 依赖是否齐备
func (s *Server) Ready() bool {
	return s.Echo != nil && s.Router != nil && s.App != nil
}

// Start 启动 HTTP 服务（阻塞）
func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}
	return s.Echo.Start(s.Config.Echo.ListenAddress)
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	log.Warn().Msg("Shutting down management API server")

	if s.Echo != nil {
		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	return nil
}
