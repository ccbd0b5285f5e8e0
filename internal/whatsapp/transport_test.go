package whatsapp

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeFactories(t *testing.T) {
	qr := newStubFactory()
	var cloudCalls int
	m := ModeFactories{
		ModeQRPairing: qr,
		ModeCloudAPI: TransportFactoryFunc(func(slot Slot) (Transport, error) {
			cloudCalls++
			return &stubTransport{slot: slot}, nil
		}),
	}

	tr, err := m.NewTransport(qrSlot("a"))
	require.NoError(t, err)
	assert.Same(t, qr.last("a"), tr)

	_, err = m.NewTransport(Slot{ID: "b", Mode: ModeCloudAPI})
	require.NoError(t, err)
	assert.Equal(t, 1, cloudCalls)

	_, err = ModeFactories{ModeQRPairing: qr}.NewTransport(Slot{ID: "c", Mode: ModeCloudAPI})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}
