package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt_KnownEncodings(t *testing.T) {
	// Sample values from the protocol documentation
	tests := []struct {
		value   int32
		encoded []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{25565, []byte{0xdd, 0xc7, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
		{-2147483648, []byte{0x80, 0x80, 0x80, 0x80, 0x08}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.encoded, AppendVarInt(nil, tt.value), "encode %d", tt.value)
		assert.Equal(t, len(tt.encoded), VarIntLen(tt.value), "len %d", tt.value)

		decoded, err := ReadVarInt(bytes.NewReader(tt.encoded))
		require.NoError(t, err)
		assert.Equal(t, tt.value, decoded, "decode %x", tt.encoded)
	}
}

func TestVarInt_TooBig(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
	}{
		{"sixth byte", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"fifth byte overflows 32 bits", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}},
		{"fifth byte highest data bit", []byte{0x80, 0x80, 0x80, 0x80, 0x40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadVarInt(bytes.NewReader(tt.encoded))
			assert.ErrorIs(t, err, ErrVarIntTooBig)
		})
	}
}

func TestReadString_Limits(t *testing.T) {
	_, err := ReadString(bytes.NewReader(AppendString(nil, "abcdefghijklmnopq")), 16)
	assert.Error(t, err, "17 characters exceed 16")

	s, err := ReadString(bytes.NewReader(AppendString(nil, "Steve")), 16)
	require.NoError(t, err)
	assert.Equal(t, "Steve", s)

	_, err = ReadString(bytes.NewReader(AppendString(nil, "\xff\xfe")), 16)
	assert.Error(t, err)

	_, err = ReadString(bytes.NewReader(AppendVarInt(nil, -1)), 16)
	assert.Error(t, err)
}

func TestPacket_Framing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, PingID, AppendInt64(nil, 42)))
	require.NoError(t, WritePacket(&buf, StatusRequestID, nil))

	r := bufio.NewReader(&buf)
	first, err := ReadPacket(r)
	require.NoError(t, err)
	payload, err := DecodePing(first)
	require.NoError(t, err)
	assert.Equal(t, int64(42), payload)

	second, err := ReadPacket(r)
	require.NoError(t, err)
	assert.Equal(t, StatusRequestID, second.ID)
	assert.Empty(t, second.Data)
}

func TestReadPacket_RejectsBadLength(t *testing.T) {
	_, err := ReadPacket(bufio.NewReader(bytes.NewReader(AppendVarInt(nil, 0))))
	assert.Error(t, err)

	_, err = ReadPacket(bufio.NewReader(bytes.NewReader(AppendVarInt(nil, MaxPacketLen+1))))
	assert.Error(t, err)

	// Declared length longer than the data
	_, err = ReadPacket(bufio.NewReader(bytes.NewReader([]byte{0x05, 0x00, 0x01})))
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	h := &Handshake{
		ProtocolVersion: 770,
		ServerAddress:   "play.example.net",
		ServerPort:      25565,
		NextState:       StateLogin,
	}

	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, HandshakeID, h.Encode()))

	p, err := ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)

	decoded, err := DecodeHandshake(p)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)

	_, err = DecodeHandshake(&Packet{ID: 0x01})
	assert.Error(t, err)

	_, err = DecodeHandshake(&Packet{ID: HandshakeID, Data: AppendVarInt(nil, 770)})
	assert.Error(t, err, "truncated handshake")
}

func TestStatusResponse(t *testing.T) {
	status := &Status{
		Version:     StatusVersion{Name: "1.21.5", Protocol: 770},
		Players:     StatusPlayers{Max: 20, Online: 3},
		Description: ChatText{Text: "tag | Fox-Teal-Swift"},
	}

	payload, err := EncodeStatusResponse(status)
	require.NoError(t, err)

	raw, err := ReadString(bytes.NewReader(payload), MaxStringLen)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": {"name": "1.21.5", "protocol": 770},
		"players": {"max": 20, "online": 3},
		"description": {"text": "tag | Fox-Teal-Swift"}
	}`, raw)

	decoded, err := DecodeStatusResponse(&Packet{ID: StatusResponseID, Data: payload})
	require.NoError(t, err)
	assert.Equal(t, status, decoded)
}

func TestLoginStartAndDisconnect(t *testing.T) {
	// Newer clients append a UUID after the name
	data := AppendString(nil, "Notch")
	data = append(data, bytes.Repeat([]byte{0xab}, 16)...)

	login, err := DecodeLoginStart(&Packet{ID: LoginStartID, Data: data})
	require.NoError(t, err)
	assert.Equal(t, "Notch", login.Name)

	_, err = DecodeLoginStart(&Packet{ID: LoginStartID, Data: AppendString(nil, strings.Repeat("a", 17))})
	assert.Error(t, err)

	payload, err := EncodeLoginDisconnect(`tag "closed"`)
	require.NoError(t, err)
	reason, err := DecodeLoginDisconnect(&Packet{ID: LoginDisconnectID, Data: payload})
	require.NoError(t, err)
	assert.Equal(t, `tag "closed"`, reason)
}
