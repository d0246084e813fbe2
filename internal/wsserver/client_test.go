package wsserver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gpumon/gpumon/internal/monitor"
)

func envelopeN(n int) monitor.Envelope {
	return monitor.Envelope{Timestamp: fmt.Sprintf("t%d", n)}
}

func TestClientSendEvictsOldestWhenFull(t *testing.T) {
	c := newClient(nil, 2)

	for i := 1; i <= 4; i++ {
		require.NoError(t, c.Send(envelopeN(i)))
	}

	// Only the two newest envelopes are queued.
	require.Equal(t, "t3", (<-c.out).Timestamp)
	require.Equal(t, "t4", (<-c.out).Timestamp)
	require.Empty(t, c.out)
}

func TestClientSendAfterCloseFails(t *testing.T) {
	c := newClient(nil, 2)
	c.Close()

	require.ErrorIs(t, c.Send(envelopeN(1)), errClosed)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := newClient(nil, 2)
	c.Close()
	c.Close()
}

func TestClientIDsAreUnique(t *testing.T) {
	a := newClient(nil, 1)
	b := newClient(nil, 1)
	require.NotEqual(t, a.ID(), b.ID())
	require.NotEmpty(t, a.ID())
}
