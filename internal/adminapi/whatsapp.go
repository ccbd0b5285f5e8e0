package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/internal/whatsapp"
	"go.uber.org/zap"
)

type slotPayload struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Mode    string                 `json:"mode"`
	Options map[string]interface{} `json:"options"`
}

type sendPayload struct {
	Jid  string `json:"jid"`
	Text string `json:"text"`
}

func registerWhatsAppRoutes() {
	webserver.ApiGET("/whatsapp/slots", listSlots)
	webserver.ApiPOST("/whatsapp/slots", createSlot)
	webserver.ApiDELETE("/whatsapp/slots/:id", deleteSlot)
	webserver.ApiGET("/whatsapp/slots/:id/status", getSlotStatus)
	webserver.ApiPOST("/whatsapp/slots/:id/pair", postSlotPair)
	webserver.ApiPOST("/whatsapp/slots/:id/send", postSlotSend)
}

func listSlots(c echo.Context) error {
	return ok(c, getSupervisor(c).List())
}

// createSlot configures a slot. Posting an id that already exists leaves the
// running slot untouched.
func createSlot(c echo.Context) error {
	var payload slotPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.ID = strings.TrimSpace(payload.ID)
	if payload.ID == "" || payload.Mode == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "id and mode are required", nil)
	}
	if payload.Name == "" {
		payload.Name = payload.ID
	}
	slot := whatsapp.Slot{
		ID:      payload.ID,
		Name:    payload.Name,
		Mode:    whatsapp.Mode(payload.Mode),
		Options: payload.Options,
	}
	if err := getSupervisor(c).Configure(c.Request().Context(), slot); err != nil {
		if errors.Is(err, whatsapp.ErrInvalidRequest) {
			return fail(c, http.StatusBadRequest, whatsapp.FailureInvalidRequest, "Invalid slot", err.Error())
		}
		return fail(c, http.StatusServiceUnavailable, "CONFIGURE_FAILED", "Failed to configure slot", err.Error())
	}
	zap.L().Info("adminapi: slot configured", zap.String("slot", slot.ID), zap.String("mode", string(slot.Mode)))
	st, err := getSupervisor(c).Status(slot.ID)
	if err != nil {
		return failSend(c, err)
	}
	return ok(c, st)
}

func deleteSlot(c echo.Context) error {
	id := c.Param("id")
	if err := getSupervisor(c).Deconfigure(c.Request().Context(), id); err != nil {
		return failSend(c, err)
	}
	return ok(c, map[string]interface{}{"removed": true})
}

func getSlotStatus(c echo.Context) error {
	st, err := getSupervisor(c).Status(c.Param("id"))
	if err != nil {
		return failSend(c, err)
	}
	return ok(c, map[string]interface{}{
		"status": st.Status,
		"qr":     st.QRPayload,
		"reason": st.Reason,
		"since":  st.Since,
	})
}

// postSlotPair asks a disconnected slot for a fresh pairing payload.
func postSlotPair(c echo.Context) error {
	id := c.Param("id")
	if err := getSupervisor(c).RequestPairing(c.Request().Context(), id); err != nil {
		return failSend(c, err)
	}
	st, _ := getSupervisor(c).Status(id)
	return ok(c, map[string]interface{}{"status": st.Status})
}

// postSlotSend sends a text message through the slot.
// Request JSON: { "jid": "62812xxxx@s.whatsapp.net", "text": "hello" }
func postSlotSend(c echo.Context) error {
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, whatsapp.FailureInvalidRequest, "Unable to parse request", err.Error())
	}
	id := c.Param("id")
	if err := getSupervisor(c).Send(c.Request().Context(), id, payload.Jid, payload.Text); err != nil {
		zap.L().Warn("adminapi: send failed", zap.String("slot", id), zap.Error(err))
		return failSend(c, err)
	}
	return ok(c, map[string]interface{}{"sent": true})
}
