// Package cloudapi implements the cloud-api transport: outbound sends go to
// the Meta Graph API, inbound messages and calls arrive on a webhook and are
// routed to the transport owning the phone number.
package cloudapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/whatsapp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v19.0"
	requestTimeout    = 15 * time.Second
)

// Options are the per-slot settings of a cloud-api slot.
type Options struct {
	Token         string `mapstructure:"token"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	WabaID        string `mapstructure:"waba_id"`
	AppID         string `mapstructure:"app_id"`
	APIVersion    string `mapstructure:"api_version"`
	BaseURL       string `mapstructure:"base_url"`
}

// DecodeOptions reads Options from a slot's option map.
func DecodeOptions(raw map[string]any) (Options, error) {
	var o Options
	if err := mapstructure.WeakDecode(raw, &o); err != nil {
		return o, errors.Wrap(err, "decode cloud-api options")
	}
	if o.PhoneNumberID == "" {
		return o, errors.New("cloud-api slot requires phone_number_id")
	}
	if o.APIVersion == "" {
		o.APIVersion = DefaultAPIVersion
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return o, nil
}

// Record is the credential record of a cloud-api slot.
type Record struct {
	Token         string `json:"token"`
	PhoneNumberID string `json:"phone_number_id"`
	VerifiedName  string `json:"verified_name,omitempty"`
}

// Factory builds cloud-api transports registered with one webhook registry.
type Factory struct {
	registry *Registry
}

var _ whatsapp.CredentialSeeder = (*Factory)(nil)

func NewFactory(registry *Registry) *Factory {
	return &Factory{registry: registry}
}

// SeedCredentials moves a configured token into the slot's record. A
// configured token replaces the stored one.
func (f *Factory) SeedCredentials(slot whatsapp.Slot, current []byte) ([]byte, error) {
	opts, err := DecodeOptions(slot.Options)
	if err != nil {
		return nil, err
	}
	if opts.Token == "" {
		return current, nil
	}
	var rec Record
	if len(current) > 0 {
		if err := json.Unmarshal(current, &rec); err != nil {
			zap.L().Warn("whatsapp: unreadable cloud-api record replaced", zap.String("slot", slot.ID), zap.Error(err))
			rec = Record{}
		}
	}
	if rec.Token == opts.Token && rec.PhoneNumberID == opts.PhoneNumberID {
		return current, nil
	}
	if rec.PhoneNumberID != opts.PhoneNumberID {
		rec.VerifiedName = ""
	}
	rec.Token = opts.Token
	rec.PhoneNumberID = opts.PhoneNumberID
	return json.Marshal(rec)
}

func (f *Factory) NewTransport(slot whatsapp.Slot) (whatsapp.Transport, error) {
	opts, err := DecodeOptions(slot.Options)
	if err != nil {
		return nil, err
	}
	return &Transport{
		registry: f.registry,
		slot:     slot,
		opts:     opts,
		logger:   zap.L().With(zap.String("slot", slot.ID)),
	}, nil
}

// Transport talks to the Graph API on behalf of one phone number.
type Transport struct {
	registry *Registry
	slot     whatsapp.Slot
	opts     Options
	logger   *zap.Logger

	mu     sync.RWMutex
	token  string
	sink   whatsapp.Sink
	closed bool
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type phoneNumberInfo struct {
	graphError
	ID                 string `json:"id"`
	VerifiedName       string `json:"verified_name"`
	DisplayPhoneNumber string `json:"display_phone_number"`
}

func (t *Transport) endpoint(parts ...string) string {
	return t.opts.BaseURL + "/" + t.opts.APIVersion + "/" + strings.Join(parts, "/")
}

func (t *Transport) Open(ctx context.Context, creds []byte, sink whatsapp.Sink) error {
	var rec Record
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &rec); err != nil {
			return errors.Wrap(err, "decode cloud-api record")
		}
	}
	token := rec.Token
	if token == "" {
		token = t.opts.Token
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("whatsapp: transport closed before open")
	}
	t.sink = sink
	t.token = token
	t.mu.Unlock()

	if token == "" {
		t.logger.Warn("whatsapp: cloud-api slot has no access token")
		sink.Closed(whatsapp.ReasonLoggedOut)
		return nil
	}

	var info phoneNumberInfo
	var code int
	err := gout.GET(t.endpoint(t.opts.PhoneNumberID)).
		WithContext(ctx).
		SetHeader(gout.H{"Authorization": "Bearer " + token}).
		SetQuery(gout.H{"fields": "verified_name,display_phone_number"}).
		SetTimeout(requestTimeout).
		BindJSON(&info).
		Code(&code).
		Do()
	if err != nil {
		return errors.Wrap(err, "verify phone number")
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		t.logger.Warn("whatsapp: cloud-api token rejected", zap.Int("status", code), zap.String("error", info.Error.Message))
		sink.Closed(whatsapp.ReasonLoggedOut)
		return nil
	case code < 200 || code >= 300:
		return errors.Errorf("verify phone number: status %d: %s", code, info.Error.Message)
	}

	blob, err := json.Marshal(Record{Token: token, PhoneNumberID: t.opts.PhoneNumberID, VerifiedName: info.VerifiedName})
	if err != nil {
		return errors.Wrap(err, "encode cloud-api record")
	}
	sink.CredentialsRotated(blob)

	// a failed persist closes the transport from inside the callback
	if !t.registerIfOpen() {
		t.logger.Warn("whatsapp: cloud-api transport closed during open")
		return nil
	}
	t.logger.Info("whatsapp: cloud-api number verified",
		zap.String("phone_number_id", t.opts.PhoneNumberID),
		zap.String("verified_name", info.VerifiedName))
	sink.Opened()
	return nil
}

// registerIfOpen routes webhook traffic for the number to t unless t was
// closed. Close unregisters under the same ordering, so a closed transport
// is never left in the registry.
func (t *Transport) registerIfOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.registry != nil {
		t.registry.register(t.opts.PhoneNumberID, t)
	}
	return true
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type sendResponse struct {
	graphError
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Recipient strips a JID suffix and a leading plus, leaving the wa_id.
func Recipient(to string) string {
	to = strings.TrimSpace(to)
	if i := strings.IndexByte(to, '@'); i >= 0 {
		to = to[:i]
	}
	return strings.TrimPrefix(to, "+")
}

func (t *Transport) Send(ctx context.Context, recipient, body string) error {
	t.mu.RLock()
	token, closed := t.token, t.closed
	t.mu.RUnlock()
	if closed || token == "" {
		return errors.New("whatsapp: cloud-api transport not open")
	}

	msg := textMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: Recipient(recipient), Type: "text"}
	msg.Text.Body = body

	var resp sendResponse
	var code int
	err := gout.POST(t.endpoint(t.opts.PhoneNumberID, "messages")).
		WithContext(ctx).
		SetHeader(gout.H{"Authorization": "Bearer " + token}).
		SetJSON(msg).
		SetTimeout(requestTimeout).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return errors.Wrap(err, "post message")
	}
	if code < 200 || code >= 300 {
		return errors.Errorf("graph api status %d: %s", code, resp.Error.Message)
	}
	if len(resp.Messages) > 0 {
		t.logger.Debug("whatsapp: cloud-api message accepted", zap.String("wamid", resp.Messages[0].ID))
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	if t.registry != nil {
		t.registry.unregister(t.opts.PhoneNumberID, t)
	}
	return nil
}

// deliver hands a webhook frame to the session.
func (t *Transport) deliver(f whatsapp.Frame) bool {
	t.mu.RLock()
	sink, closed := t.sink, t.closed
	t.mu.RUnlock()
	if closed || sink == nil {
		return false
	}
	sink.Inbound(f)
	return true
}
