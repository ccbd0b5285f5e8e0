package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/internal/whatsapp"
)

// Response is the envelope of every /api/v1 reply.
type Response struct {
	Code   string      `json:"code"`
	Msg    string      `json:"msg"`
	Data   interface{} `json:"data,omitempty"`
	Detail interface{} `json:"detail,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Code: "OK", Msg: "success", Data: data})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, Response{Code: code, Msg: msg, Detail: detail})
}

// Init registers every admin route on the global webserver.
func Init() {
	registerWhatsAppRoutes()
	registerEventRoutes()
	registerWebhookRoutes()
	registerMetricsRoutes()
	registerLegacyRoutes()
}

func GetAppContext(c echo.Context) app.AppContext {
	return c.Get(webserver.AppContextKey).(app.AppContext)
}

func getSupervisor(c echo.Context) *whatsapp.Supervisor {
	return GetAppContext(c).Supervisor()
}

// failSend maps a supervisor error to its caller-facing code.
func failSend(c echo.Context, err error) error {
	reason := whatsapp.FailureReason(err)
	switch reason {
	case whatsapp.FailureUnknownSlot:
		return fail(c, http.StatusNotFound, reason, "Slot not found", err.Error())
	case whatsapp.FailureInvalidRequest:
		return fail(c, http.StatusBadRequest, reason, "Invalid request", err.Error())
	case whatsapp.FailureNotConnected:
		return fail(c, http.StatusConflict, reason, "Slot is not connected", err.Error())
	default:
		return fail(c, http.StatusBadGateway, reason, "Transport rejected the message", err.Error())
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
