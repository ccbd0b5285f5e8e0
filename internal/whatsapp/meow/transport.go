// Package meow implements the qr-pairing transport on top of whatsmeow. The
// device keys live in whatsmeow's sqlstore; the credential record handed to
// the session only remembers which device a slot is paired as.
package meow

import (
	"context"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	waBinary "go.mau.fi/whatsmeow/binary"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the credential record of a paired device.
type Record struct {
	JID          string `json:"jid"`
	BusinessName string `json:"business_name,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

// EncodeRecord serializes r for the credential store.
func EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a stored record. Empty input yields a zero Record.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if len(b) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, errors.Wrap(err, "decode device record")
	}
	return r, nil
}

// Options are the per-slot settings of a qr-pairing slot.
type Options struct {
	PushName string `mapstructure:"push_name"`
}

// DecodeOptions reads Options from a slot's option map.
func DecodeOptions(raw map[string]any) (Options, error) {
	var o Options
	if len(raw) == 0 {
		return o, nil
	}
	if err := mapstructure.WeakDecode(raw, &o); err != nil {
		return o, errors.Wrap(err, "decode qr-pairing options")
	}
	return o, nil
}

// Factory builds whatsmeow transports sharing one device container.
type Factory struct {
	container *sqlstore.Container
}

func NewFactory(container *sqlstore.Container) *Factory {
	return &Factory{container: container}
}

func (f *Factory) NewTransport(slot whatsapp.Slot) (whatsapp.Transport, error) {
	opts, err := DecodeOptions(slot.Options)
	if err != nil {
		return nil, err
	}
	return &Transport{
		container: f.container,
		slot:      slot,
		opts:      opts,
		logger:    zap.L().With(zap.String("slot", slot.ID)),
	}, nil
}

// Transport is a single whatsmeow client connection.
type Transport struct {
	container *sqlstore.Container
	slot      whatsapp.Slot
	opts      Options
	logger    *zap.Logger

	mu        sync.Mutex
	cli       *whatsmeow.Client
	sink      whatsapp.Sink
	handlerID uint32
	cancel    context.CancelFunc
	closed    bool
}

func (t *Transport) Open(ctx context.Context, creds []byte, sink whatsapp.Sink) error {
	rec, err := DecodeRecord(creds)
	if err != nil {
		return err
	}
	dev, err := t.device(ctx, rec)
	if err != nil {
		return err
	}
	if t.opts.PushName != "" && dev.PushName == "" {
		dev.PushName = t.opts.PushName
	}

	cli := whatsmeow.NewClient(dev, NewLogger(zap.L().Named("whatsmeow").With(zap.String("slot", t.slot.ID))))
	cli.EnableAutoReconnect = false

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return errors.New("whatsapp: transport closed before open")
	}
	t.cli = cli
	t.sink = sink
	t.cancel = cancel
	t.handlerID = cli.AddEventHandler(t.handle)
	t.mu.Unlock()

	if cli.Store.ID == nil {
		qrCh, err := cli.GetQRChannel(runCtx)
		if err != nil {
			return errors.Wrap(err, "get qr channel")
		}
		go t.pumpQR(runCtx, qrCh)
	}
	if err := cli.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	t.logger.Info("whatsapp: client connecting", zap.Bool("paired", cli.Store.ID != nil))
	return nil
}

func (t *Transport) device(ctx context.Context, rec Record) (*store.Device, error) {
	if rec.JID == "" {
		return t.container.NewDevice(), nil
	}
	jid, err := waTypes.ParseJID(rec.JID)
	if err != nil {
		return nil, errors.Wrapf(err, "parse stored jid %q", rec.JID)
	}
	dev, err := t.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, errors.Wrap(err, "load device")
	}
	if dev == nil {
		// the record outlived the device keys; pair again
		t.logger.Warn("whatsapp: stored device missing, pairing afresh", zap.String("jid", rec.JID))
		return t.container.NewDevice(), nil
	}
	return dev, nil
}

func (t *Transport) pumpQR(ctx context.Context, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if ctx.Err() != nil {
			return
		}
		sink := t.currentSink()
		if sink == nil {
			return
		}
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			sink.Pairing(item.Code)
		case whatsmeow.QRChannelSuccess.Event:
		case whatsmeow.QRChannelTimeout.Event:
			t.logger.Info("whatsapp: qr pairing timed out")
			sink.Closed(whatsapp.ReasonTransient)
		default:
			t.logger.Warn("whatsapp: qr pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
			sink.Closed(whatsapp.ReasonTransient)
		}
	}
}

func (t *Transport) currentSink() whatsapp.Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.sink
}

func (t *Transport) client() *whatsmeow.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cli
}

func (t *Transport) handle(evt interface{}) {
	sink := t.currentSink()
	if sink == nil {
		return
	}
	dispatch(sink, evt, t.displayName)
}

// dispatch translates one whatsmeow event into sink calls.
func dispatch(sink whatsapp.Sink, evt interface{}, nameOf func(waTypes.JID) string) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		blob, err := EncodeRecord(Record{JID: v.ID.String(), BusinessName: v.BusinessName, Platform: v.Platform})
		if err != nil {
			zap.L().Error("whatsapp: encode device record failed", zap.Error(err))
			return
		}
		sink.CredentialsRotated(blob)
	case *events.Connected:
		sink.Opened()
	case *events.LoggedOut:
		sink.Closed(whatsapp.ReasonLoggedOut)
	case *events.StreamReplaced:
		sink.Closed(whatsapp.ReasonLoggedOut)
	case *events.TemporaryBan:
		sink.Closed(whatsapp.ReasonLoggedOut)
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			sink.Closed(whatsapp.ReasonLoggedOut)
		} else {
			sink.Closed(whatsapp.ReasonTransient)
		}
	case *events.Disconnected:
		sink.Closed(whatsapp.ReasonTransient)
	case *events.Message:
		body := messageText(v.Message)
		if body == "" {
			return
		}
		sink.Inbound(whatsapp.Frame{
			Kind:     whatsapp.FrameMessage,
			ID:       string(v.Info.ID),
			From:     v.Info.Sender.ToNonAD().String(),
			FromName: v.Info.PushName,
			Body:     body,
			At:       v.Info.Timestamp,
			FromSelf: v.Info.IsFromMe,
		})
	case *events.CallOffer:
		from := v.From.ToNonAD()
		sink.Inbound(whatsapp.Frame{
			Kind:     whatsapp.FrameCall,
			ID:       v.CallID,
			From:     from.String(),
			FromName: nameOf(from),
			CallKind: callKind(v.Data),
			At:       v.Timestamp,
		})
	}
}

func (t *Transport) displayName(jid waTypes.JID) string {
	if cli := t.client(); cli != nil && cli.Store != nil && cli.Store.Contacts != nil {
		info, err := cli.Store.Contacts.GetContact(context.Background(), jid)
		if err == nil && info.Found {
			for _, n := range []string{info.FullName, info.PushName, info.BusinessName} {
				if n != "" {
					return n
				}
			}
		}
	}
	return jid.User
}

func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if c := m.GetConversation(); c != "" {
		return c
	}
	return m.GetExtendedTextMessage().GetText()
}

func callKind(offer *waBinary.Node) whatsapp.CallKind {
	if offer != nil {
		if _, ok := offer.GetOptionalChildByTag("video"); ok {
			return whatsapp.CallVideo
		}
	}
	return whatsapp.CallVoice
}

// RecipientJID accepts a full JID or a bare phone number.
func RecipientJID(to string) (waTypes.JID, error) {
	to = strings.TrimSpace(to)
	if !strings.Contains(to, "@") {
		to = strings.TrimPrefix(to, "+")
		if to == "" {
			return waTypes.EmptyJID, errors.New("empty recipient")
		}
		return waTypes.NewJID(to, waTypes.DefaultUserServer), nil
	}
	return waTypes.ParseJID(to)
}

func (t *Transport) Send(ctx context.Context, recipient, body string) error {
	cli := t.client()
	if cli == nil {
		return errors.New("whatsapp: client not open")
	}
	jid, err := RecipientJID(recipient)
	if err != nil {
		t.logger.Warn("whatsapp: invalid jid", zap.Error(err), zap.String("jid", recipient))
		return err
	}
	_, err = cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cli, cancel, id := t.cli, t.cancel, t.handlerID
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cli != nil {
		cli.RemoveEventHandler(id)
		cli.Disconnect()
	}
	return nil
}
