package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWire_MessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMsg(&buf, msgHeartbeat, flagRecovery, []byte("body")))

	typ, flags, body, err := readMsg(&buf)
	require.NoError(t, err)
	assert.Equal(t, msgHeartbeat, typ)
	assert.Equal(t, flagRecovery, flags)
	assert.Equal(t, []byte("body"), body)
}

func TestWire_RejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMsg(&buf, msgHeartbeat, 0, nil))
	raw := buf.Bytes()
	raw[0] ^= 0xFF

	_, _, _, err := readMsg(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestWire_HeartbeatRoundTrip(t *testing.T) {
	in := heartbeat{HostID: 7, State: Active, Priority: 3, DBState: DBState{10, 0, 42}}
	out, err := decodeHeartbeat(in.encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeHeartbeat(in.encode()[:5])
	assert.Error(t, err)
}

func TestWire_ReplicateRoundTrip(t *testing.T) {
	in := replicate{DB: 1, RN: 99, HeadKey: "T1", Data: []byte("payload")}
	body, flags := in.encode()
	assert.Zero(t, flags, "small payload stays uncompressed")

	out, err := decodeReplicate(body, flags)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWire_ReplicateCompressesLargePayloads(t *testing.T) {
	in := replicate{DB: 0, RN: 1, HeadKey: "K", Data: bytes.Repeat([]byte("ab"), 4096)}
	body, flags := in.encode()
	assert.Equal(t, flagCompressed, flags&flagCompressed)
	assert.Less(t, len(body), len(in.Data))

	out, err := decodeReplicate(body, flags)
	require.NoError(t, err)
	assert.Equal(t, in.Data, out.Data)
}
