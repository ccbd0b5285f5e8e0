package adminapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/webserver"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// The webhook is called by Meta and carries no bearer token; requests are
// authenticated by the verify token and the payload signature instead.
func registerWebhookRoutes() {
	webserver.PublicGET("/api/v1/whatsapp/cloud/webhook", verifyCloudWebhook)
	webserver.PublicPOST("/api/v1/whatsapp/cloud/webhook", receiveCloudWebhook)
}

func verifyCloudWebhook(c echo.Context) error {
	reg := GetAppContext(c).CloudWebhook()
	challenge, valid := reg.Verify(c.QueryParam("hub.mode"), c.QueryParam("hub.verify_token"), c.QueryParam("hub.challenge"))
	if !valid {
		return c.NoContent(http.StatusForbidden)
	}
	return c.String(http.StatusOK, challenge)
}

func receiveCloudWebhook(c echo.Context) error {
	reg := GetAppContext(c).CloudWebhook()
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if !reg.CheckSignature(body, c.Request().Header.Get("X-Hub-Signature-256")) {
		zap.L().Warn("adminapi: webhook signature mismatch", zap.String("remote", c.RealIP()))
		return c.NoContent(http.StatusUnauthorized)
	}
	n, err := reg.Dispatch(body)
	if err != nil {
		zap.L().Warn("adminapi: webhook payload rejected", zap.Error(err))
		return c.NoContent(http.StatusBadRequest)
	}
	zap.L().Debug("adminapi: webhook dispatched", zap.Int("frames", n))
	return c.NoContent(http.StatusOK)
}
