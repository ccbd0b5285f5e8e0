package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/internal/whatsapp"
)

// Single-number routes kept for older dashboards. They act on
// whatsapp.default_slot and answer in their historical plain shapes.
func registerLegacyRoutes() {
	webserver.LegacyGET("/status", legacyStatus)
	webserver.LegacyPOST("/send-message", legacySendMessage)
	webserver.LegacyGET("/generate-qr", legacyGenerateQR)
}

func defaultSlot(c echo.Context) string {
	return GetAppContext(c).Config().WhatsApp.DefaultSlot
}

func legacyStatus(c echo.Context) error {
	st, err := getSupervisor(c).Status(defaultSlot(c))
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": whatsapp.StatusDisconnected, "qr": nil})
	}
	var qr interface{}
	if st.QRPayload != "" {
		qr = st.QRPayload
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": st.Status, "qr": qr})
}

func legacySendMessage(c echo.Context) error {
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
	}
	if err := getSupervisor(c).Send(c.Request().Context(), defaultSlot(c), payload.Jid, payload.Text); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"reason":  whatsapp.FailureReason(err),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func legacyGenerateQR(c echo.Context) error {
	sup := getSupervisor(c)
	id := defaultSlot(c)
	if st, err := sup.Status(id); err == nil && st.Status == whatsapp.StatusConnected {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "connected"})
	}
	if err := sup.RequestPairing(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"status": "error", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "initializing"})
}
