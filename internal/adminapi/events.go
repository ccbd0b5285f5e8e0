package adminapi

import (
	"context"
	"strconv"
	"time"

	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/internal/whatsapp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const eventWriteTimeout = 10 * time.Second

// eventFrame is one websocket message of the event stream. The id is a
// string because snowflake ids overflow JavaScript numbers.
type eventFrame struct {
	ID   string             `json:"id"`
	Type whatsapp.EventKind `json:"type"`
	Data whatsapp.Event     `json:"data"`
}

func registerEventRoutes() {
	webserver.ApiGET("/whatsapp/events", streamEvents)
}

func encodeDelivery(d whatsapp.Delivery) ([]byte, error) {
	return json.Marshal(eventFrame{
		ID:   strconv.FormatInt(d.ID, 10),
		Type: d.Event.Kind(),
		Data: d.Event,
	})
}

// streamEvents upgrades to a websocket and relays bus events until either
// side goes away. ?slot=a,b narrows the stream to those slots. Browsers
// from another origin are refused unless web.allowed_origins matches them.
func streamEvents(c echo.Context) error {
	appCtx := GetAppContext(c)
	bus := appCtx.Events()
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: appCtx.Config().Web.AllowedOrigins,
	})
	if err != nil {
		zap.L().Warn("adminapi: websocket accept failed", zap.Error(err))
		return nil
	}
	defer conn.CloseNow()

	sub := bus.Subscribe(whatsapp.WithSlots(splitCSV(c.QueryParam("slot"))...))
	defer sub.Close()
	zap.L().Info("adminapi: event stream opened", zap.String("subscriber", sub.ID()), zap.String("remote", c.RealIP()))

	// the client never sends; CloseRead handles control frames and ends ctx on close
	ctx := conn.CloseRead(c.Request().Context())
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("adminapi: event stream closed",
				zap.String("subscriber", sub.ID()),
				zap.Uint64("dropped", sub.Dropped()))
			return nil
		case d, open := <-sub.C():
			if !open {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return nil
			}
			data, err := encodeDelivery(d)
			if err != nil {
				zap.L().Error("adminapi: encode event failed", zap.Error(err))
				continue
			}
			if err := writeFrame(ctx, conn, data); err != nil {
				return nil
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
