package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxPacketLen is the largest frame accepted: the biggest three-byte VarInt.
const MaxPacketLen = 1<<21 - 1

// Connection states announced by the handshake.
const (
	StateStatus   int32 = 1
	StateLogin    int32 = 2
	StateTransfer int32 = 3
)

// Packet ids used before play.
const (
	HandshakeID       int32 = 0x00
	StatusRequestID   int32 = 0x00
	StatusResponseID  int32 = 0x00
	PingID            int32 = 0x01
	PongID            int32 = 0x01
	LoginStartID      int32 = 0x00
	LoginDisconnectID int32 = 0x00
)

// Packet is one decoded frame.
type Packet struct {
	ID   int32
	Data []byte
}

// Reader returns a reader over the packet payload.
func (p *Packet) Reader() *bytes.Reader {
	return bytes.NewReader(p.Data)
}

// ReadPacket reads one length-prefixed frame.
func ReadPacket(r *bufio.Reader) (*Packet, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if length < 1 || length > MaxPacketLen {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}

	body := bytes.NewReader(frame)
	id, err := ReadVarInt(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet id: %w", err)
	}

	return &Packet{ID: id, Data: frame[len(frame)-body.Len():]}, nil
}

// WritePacket frames payload with id and writes it in a single call.
func WritePacket(w io.Writer, id int32, payload []byte) error {
	length := VarIntLen(id) + len(payload)
	if length > MaxPacketLen {
		return fmt.Errorf("packet length %d exceeds maximum %d", length, MaxPacketLen)
	}

	buf := make([]byte, 0, MaxVarIntLen+length)
	buf = AppendVarInt(buf, int32(length))
	buf = AppendVarInt(buf, id)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// Handshake is the first packet of every connection.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

// DecodeHandshake parses a handshake payload.
func DecodeHandshake(p *Packet) (*Handshake, error) {
	if p.ID != HandshakeID {
		return nil, fmt.Errorf("expected handshake, got packet 0x%02x", p.ID)
	}

	r := p.Reader()
	var h Handshake
	var err error

	if h.ProtocolVersion, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("handshake protocol version: %w", err)
	}
	if h.ServerAddress, err = ReadString(r, 255); err != nil {
		return nil, fmt.Errorf("handshake server address: %w", err)
	}
	if h.ServerPort, err = ReadUint16(r); err != nil {
		return nil, fmt.Errorf("handshake server port: %w", err)
	}
	if h.NextState, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("handshake next state: %w", err)
	}
	return &h, nil
}

// Encode returns the handshake payload.
func (h *Handshake) Encode() []byte {
	buf := AppendVarInt(nil, h.ProtocolVersion)
	buf = AppendString(buf, h.ServerAddress)
	buf = AppendUint16(buf, h.ServerPort)
	return AppendVarInt(buf, h.NextState)
}

// Status is the server list entry sent in the status response.
type Status struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description ChatText      `json:"description"`
}

// StatusVersion names the protocol the server speaks
type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

// StatusPlayers reports occupancy
type StatusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

// ChatText is the plain-text chat component
type ChatText struct {
	Text string `json:"text"`
}

// EncodeStatusResponse returns the status response payload.
func EncodeStatusResponse(s *Status) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return AppendString(nil, string(data)), nil
}

// DecodeStatusResponse parses a status response payload.
func DecodeStatusResponse(p *Packet) (*Status, error) {
	raw, err := ReadString(p.Reader(), MaxStringLen)
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &s, nil
}

// DecodePing returns the payload of a ping or pong.
func DecodePing(p *Packet) (int64, error) {
	if p.ID != PingID {
		return 0, fmt.Errorf("expected ping, got packet 0x%02x", p.ID)
	}
	return ReadInt64(p.Reader())
}

// LoginStart is the first login-state packet
type LoginStart struct {
	Name string
}

// DecodeLoginStart parses the player name; trailing fields vary by version
// and are ignored.
func DecodeLoginStart(p *Packet) (*LoginStart, error) {
	if p.ID != LoginStartID {
		return nil, fmt.Errorf("expected login start, got packet 0x%02x", p.ID)
	}
	name, err := ReadString(p.Reader(), 16)
	if err != nil {
		return nil, fmt.Errorf("login start name: %w", err)
	}
	return &LoginStart{Name: name}, nil
}

// EncodeLoginDisconnect returns a login disconnect payload showing reason.
func EncodeLoginDisconnect(reason string) ([]byte, error) {
	data, err := json.Marshal(ChatText{Text: reason})
	if err != nil {
		return nil, err
	}
	return AppendString(nil, string(data)), nil
}

// DecodeLoginDisconnect returns the reason text of a login disconnect.
func DecodeLoginDisconnect(p *Packet) (string, error) {
	raw, err := ReadString(p.Reader(), MaxStringLen)
	if err != nil {
		return "", err
	}
	var chat ChatText
	if err := json.Unmarshal([]byte(raw), &chat); err != nil {
		return "", fmt.Errorf("failed to parse disconnect reason: %w", err)
	}
	return chat.Text, nil
}
