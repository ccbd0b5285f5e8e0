package meow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/internal/whatsapp"
	waBinary "go.mau.fi/whatsmeow/binary"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type sinkCall struct {
	kind   string
	reason whatsapp.DisconnectReason
	creds  []byte
	frame  whatsapp.Frame
}

type recordingSink struct {
	calls []sinkCall
}

func (s *recordingSink) Pairing(p string) { s.calls = append(s.calls, sinkCall{kind: "pairing:" + p}) }
func (s *recordingSink) Opened()          { s.calls = append(s.calls, sinkCall{kind: "opened"}) }
func (s *recordingSink) CredentialsRotated(c []byte) {
	s.calls = append(s.calls, sinkCall{kind: "rotated", creds: c})
}
func (s *recordingSink) Inbound(f whatsapp.Frame) {
	s.calls = append(s.calls, sinkCall{kind: "inbound", frame: f})
}
func (s *recordingSink) Closed(r whatsapp.DisconnectReason) {
	s.calls = append(s.calls, sinkCall{kind: "closed", reason: r})
}

func noName(jid waTypes.JID) string { return jid.User }

func TestDispatchLifecycle(t *testing.T) {
	cases := []struct {
		name   string
		evt    interface{}
		kind   string
		reason whatsapp.DisconnectReason
	}{
		{"connected", &events.Connected{}, "opened", ""},
		{"logged out", &events.LoggedOut{}, "closed", whatsapp.ReasonLoggedOut},
		{"stream replaced", &events.StreamReplaced{}, "closed", whatsapp.ReasonLoggedOut},
		{"temporary ban", &events.TemporaryBan{}, "closed", whatsapp.ReasonLoggedOut},
		{"disconnected", &events.Disconnected{}, "closed", whatsapp.ReasonTransient},
		{"connect failure logout", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, "closed", whatsapp.ReasonLoggedOut},
		{"connect failure unavailable", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, "closed", whatsapp.ReasonTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			dispatch(sink, tc.evt, noName)
			require.Len(t, sink.calls, 1)
			assert.Equal(t, tc.kind, sink.calls[0].kind)
			assert.Equal(t, tc.reason, sink.calls[0].reason)
		})
	}
}

func TestDispatchPairSuccessRotatesRecord(t *testing.T) {
	sink := &recordingSink{}
	jid := waTypes.NewJID("6281234", waTypes.DefaultUserServer)
	dispatch(sink, &events.PairSuccess{ID: jid, BusinessName: "Shop", Platform: "android"}, noName)

	require.Len(t, sink.calls, 1)
	require.Equal(t, "rotated", sink.calls[0].kind)
	rec, err := DecodeRecord(sink.calls[0].creds)
	require.NoError(t, err)
	assert.Equal(t, Record{JID: jid.String(), BusinessName: "Shop", Platform: "android"}, rec)
}

func TestDispatchMessages(t *testing.T) {
	sink := &recordingSink{}
	sender := waTypes.NewJID("6281", waTypes.DefaultUserServer)
	at := time.Unix(1700000000, 0)
	info := waTypes.MessageInfo{
		MessageSource: waTypes.MessageSource{Sender: sender, Chat: sender},
		ID:            "ABC",
		PushName:      "Ana",
		Timestamp:     at,
	}

	dispatch(sink, &events.Message{Info: info, Message: &waE2E.Message{Conversation: proto.String("hello")}}, noName)
	dispatch(sink, &events.Message{Info: info, Message: &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")},
	}}, noName)
	dispatch(sink, &events.Message{Info: info, Message: &waE2E.Message{}}, noName)

	own := info
	own.IsFromMe = true
	dispatch(sink, &events.Message{Info: own, Message: &waE2E.Message{Conversation: proto.String("mine")}}, noName)

	require.Len(t, sink.calls, 3)
	assert.Equal(t, whatsapp.Frame{
		Kind: whatsapp.FrameMessage, ID: "ABC", From: sender.String(), FromName: "Ana", Body: "hello", At: at,
	}, sink.calls[0].frame)
	assert.Equal(t, "extended", sink.calls[1].frame.Body)
	assert.True(t, sink.calls[2].frame.FromSelf)
}

func TestDispatchCallOffer(t *testing.T) {
	sink := &recordingSink{}
	from := waTypes.NewJID("6282", waTypes.DefaultUserServer)
	meta := waTypes.BasicCallMeta{From: from, CallID: "call-1", Timestamp: time.Unix(1700000000, 0)}

	dispatch(sink, &events.CallOffer{BasicCallMeta: meta, Data: &waBinary.Node{Tag: "offer", Content: []waBinary.Node{{Tag: "video"}}}}, noName)
	dispatch(sink, &events.CallOffer{BasicCallMeta: meta, Data: &waBinary.Node{Tag: "offer", Content: []waBinary.Node{{Tag: "audio"}}}}, noName)

	require.Len(t, sink.calls, 2)
	assert.Equal(t, whatsapp.CallVideo, sink.calls[0].frame.CallKind)
	assert.Equal(t, "6282", sink.calls[0].frame.FromName)
	assert.Equal(t, "call-1", sink.calls[0].frame.ID)
	assert.Equal(t, whatsapp.CallVoice, sink.calls[1].frame.CallKind)
}

func TestDispatchIgnoresOtherEvents(t *testing.T) {
	sink := &recordingSink{}
	dispatch(sink, &events.Receipt{}, noName)
	dispatch(sink, "noise", noName)
	assert.Empty(t, sink.calls)
}

func TestRecipientJID(t *testing.T) {
	jid, err := RecipientJID("+62812345")
	require.NoError(t, err)
	assert.Equal(t, "62812345@s.whatsapp.net", jid.String())

	jid, err = RecipientJID("62812345@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "62812345", jid.User)

	_, err = RecipientJID("  ")
	assert.Error(t, err)
}

func TestRecordCodec(t *testing.T) {
	rec, err := DecodeRecord(nil)
	require.NoError(t, err)
	assert.Equal(t, Record{}, rec)

	_, err = DecodeRecord([]byte("{broken"))
	assert.Error(t, err)

	blob, err := EncodeRecord(Record{JID: "1@s.whatsapp.net"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jid":"1@s.whatsapp.net"}`, string(blob))
}

func TestDecodeOptions(t *testing.T) {
	o, err := DecodeOptions(map[string]any{"push_name": "Front Desk"})
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", o.PushName)

	o, err = DecodeOptions(nil)
	require.NoError(t, err)
	assert.Empty(t, o.PushName)
}

func TestFactoryBuildsTransport(t *testing.T) {
	f := NewFactory(nil)
	tr, err := f.NewTransport(whatsapp.Slot{ID: "a", Mode: whatsapp.ModeQRPairing})
	require.NoError(t, err)
	require.NotNil(t, tr)

	// closing a never-opened transport is safe and idempotent
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.Error(t, tr.Send(context.Background(), "1", "x"))
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "postgres", Dialect("PostgreSQL"))
	assert.Equal(t, "sqlite3", Dialect("sqlite"))
	assert.Equal(t, "sqlite3", Dialect(""))
}
