package signers

import (
	"net/http"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/discovery"
	"github.com/labstack/echo/v4"
)

// AddSignerRequest 手动登记签名方请求体
type AddSignerRequest struct {
	PublicKey    string   `json:"publicKey"`
	PeerID       string   `json:"peerId"`
	Nickname     string   `json:"nickname"`
	Capabilities []string `json:"capabilities"`
	FeeHint      int64    `json:"feeHint"`
}

func PostAddSignerRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Signers.POST("", postAddSignerHandler(s))
}

func postAddSignerHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body AddSignerRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if body.PublicKey == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "publicKey is required")
		}

		caps := discovery.CapabilitySetFromStrings(body.Capabilities)
		if len(caps) == 0 {
			caps = discovery.NewCapabilitySet(discovery.CapabilityCoSign)
		}

		entry, err := s.App.AddSignerManually(ctx, discovery.SignerAdvertisement{
			PublicKey:    body.PublicKey,
			PeerID:       body.PeerID,
			Nickname:     body.Nickname,
			Capabilities: caps,
			FeeHint:      body.FeeHint,
		})
		if err != nil {
			return api.DomainError(err)
		}
		return c.JSON(http.StatusCreated, entry)
	}
}
