package cloudapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/talkincode/wagate/internal/whatsapp"
	"go.uber.org/zap"
)

// Registry routes webhook deliveries to the open transport of each phone
// number id.
type Registry struct {
	verifyToken string
	appSecret   string

	mu      sync.RWMutex
	byPhone map[string]*Transport
}

// NewRegistry builds a registry. An empty appSecret disables signature checks.
func NewRegistry(verifyToken, appSecret string) *Registry {
	return &Registry{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		byPhone:     make(map[string]*Transport),
	}
}

func (r *Registry) register(phoneID string, t *Transport) {
	r.mu.Lock()
	r.byPhone[phoneID] = t
	r.mu.Unlock()
}

// unregister only removes t; a newer transport for the same number stays.
func (r *Registry) unregister(phoneID string, t *Transport) {
	r.mu.Lock()
	if r.byPhone[phoneID] == t {
		delete(r.byPhone, phoneID)
	}
	r.mu.Unlock()
}

func (r *Registry) lookup(phoneID string) *Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPhone[phoneID]
}

// Verify answers the subscription handshake. It returns the challenge to
// echo back and whether the request carried the configured token.
func (r *Registry) Verify(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || r.verifyToken == "" || token != r.verifyToken {
		return "", false
	}
	return challenge, true
}

// CheckSignature validates the X-Hub-Signature-256 header against body.
func (r *Registry) CheckSignature(body []byte, header string) bool {
	if r.appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(r.appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
		Button struct {
			Text string `json:"text"`
		} `json:"button"`
	} `json:"messages"`
	Calls []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Event     string `json:"event"`
		Timestamp string `json:"timestamp"`
		Session   struct {
			SDP string `json:"sdp"`
		} `json:"session"`
	} `json:"calls"`
}

// Dispatch parses a webhook body and forwards its messages and call offers to
// the matching transports. It returns the number of frames delivered.
func (r *Registry) Dispatch(body []byte) (int, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, errors.Wrap(err, "decode webhook payload")
	}
	delivered := 0
	for _, entry := range p.Entry {
		for _, ch := range entry.Changes {
			v := ch.Value
			t := r.lookup(v.Metadata.PhoneNumberID)
			if t == nil {
				zap.L().Debug("whatsapp: webhook for unknown number",
					zap.String("phone_number_id", v.Metadata.PhoneNumberID),
					zap.String("field", ch.Field))
				continue
			}
			for _, f := range framesOf(ch.Field, v) {
				if t.deliver(f) {
					delivered++
				}
			}
		}
	}
	return delivered, nil
}

func framesOf(field string, v changeValue) []whatsapp.Frame {
	names := make(map[string]string, len(v.Contacts))
	for _, c := range v.Contacts {
		names[c.WaID] = c.Profile.Name
	}
	nameOf := func(waID string) string {
		if n := names[waID]; n != "" {
			return n
		}
		return waID
	}

	var out []whatsapp.Frame
	switch field {
	case "messages":
		for _, m := range v.Messages {
			body := m.Text.Body
			if m.Type == "button" {
				body = m.Button.Text
			}
			if body == "" {
				continue
			}
			out = append(out, whatsapp.Frame{
				Kind:     whatsapp.FrameMessage,
				ID:       m.ID,
				From:     m.From,
				FromName: nameOf(m.From),
				Body:     body,
				At:       unixTime(m.Timestamp),
			})
		}
	case "calls":
		for _, c := range v.Calls {
			if c.Event != "connect" {
				continue
			}
			kind := whatsapp.CallVoice
			if strings.Contains(c.Session.SDP, "m=video") {
				kind = whatsapp.CallVideo
			}
			out = append(out, whatsapp.Frame{
				Kind:     whatsapp.FrameCall,
				ID:       c.ID,
				From:     c.From,
				FromName: nameOf(c.From),
				CallKind: kind,
				At:       unixTime(c.Timestamp),
			})
		}
	}
	return out
}

func unixTime(ts string) time.Time {
	sec := cast.ToInt64(ts)
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
