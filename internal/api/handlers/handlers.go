package handlers

import (
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api/handlers/requests"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api/handlers/sessions"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api/handlers/signers"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api/handlers/wallets"
	"github.com/labstack/echo/v4"
)

// AttachAllRoutes 注册全部管理 API 路由
func AttachAllRoutes(s *api.Server) []*echo.Route {
	return []*echo.Route{
		wallets.GetListWalletsRoute(s),
		wallets.GetWalletRoute(s),
		wallets.PostCreateWalletRoute(s),
		wallets.PostImportWalletRoute(s),
		wallets.PutUpdateWalletRoute(s),
		wallets.DeleteWalletRoute(s),
		wallets.PostRefreshBalanceRoute(s),
		wallets.PostProposeSpendRoute(s),

		signers.GetListSignersRoute(s),
		signers.PostAddSignerRoute(s),
		signers.PostDiscoverSignersRoute(s),

		sessions.GetListSessionsRoute(s),
		sessions.GetSessionRoute(s),
		sessions.PostAbortSessionRoute(s),
		sessions.PostRetrySessionRoute(s),

		requests.GetListRequestsRoute(s),
		requests.PostAcceptRequestRoute(s),
		requests.PostRejectRequestRoute(s),
		requests.PostCancelRequestRoute(s),
	}
}
