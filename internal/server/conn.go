package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/shiftsad/gameserver/internal/logging"
	"github.com/shiftsad/gameserver/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func stateLabel(state int32) string {
	switch state {
	case protocol.StateStatus:
		return "status"
	case protocol.StateLogin:
		return "login"
	case protocol.StateTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// handleConn serves one client from handshake to close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ctx, span := s.tracer.Start(ctx, "connection")
	defer span.End()

	if err := conn.SetDeadline(time.Now().Add(s.cfg.ConnTimeout)); err != nil {
		s.logger.Debug("Failed to set deadline for %s: %v", conn.RemoteAddr(), err)
		return
	}

	r := bufio.NewReader(conn)
	packet, err := protocol.ReadPacket(r)
	if err != nil {
		s.connError(conn, "read handshake", err)
		return
	}
	handshake, err := protocol.DecodeHandshake(packet)
	if err != nil {
		s.connError(conn, "decode handshake", err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	state := stateLabel(handshake.NextState)
	s.metrics.Connections.WithLabelValues(state).Inc()
	span.SetAttributes(
		attribute.String("connection.state", state),
		attribute.Int("connection.protocol", int(handshake.ProtocolVersion)),
	)

	logger := s.logger.WithContext(ctx).WithFields(
		logging.Field("remote", conn.RemoteAddr().String()),
		logging.Field("state", state),
	)
	logger.Debug("Handshake for %s:%d", handshake.ServerAddress, handshake.ServerPort)

	switch handshake.NextState {
	case protocol.StateStatus:
		err = s.handleStatus(r, conn)
	case protocol.StateLogin, protocol.StateTransfer:
		err = s.handleLogin(r, conn, logger)
	default:
		err = fmt.Errorf("unknown next state %d", handshake.NextState)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.connError(conn, state, err)
	}
}

// handleStatus answers the server-list request and echoes the ping.
func (s *Server) handleStatus(r *bufio.Reader, w io.Writer) error {
	request, err := protocol.ReadPacket(r)
	if err != nil {
		return err
	}
	if request.ID != protocol.StatusRequestID {
		return fmt.Errorf("expected status request, got packet 0x%02x", request.ID)
	}

	payload, err := protocol.EncodeStatusResponse(s.Status())
	if err != nil {
		return err
	}
	if err := protocol.WritePacket(w, protocol.StatusResponseID, payload); err != nil {
		return err
	}

	ping, err := protocol.ReadPacket(r)
	if err != nil {
		// Clients may close without pinging
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	value, err := protocol.DecodePing(ping)
	if err != nil {
		return err
	}
	return protocol.WritePacket(w, protocol.PongID, protocol.AppendInt64(nil, value))
}

// handleLogin counts the player as online until the login is refused.
func (s *Server) handleLogin(r *bufio.Reader, w io.Writer, logger *logging.Logger) error {
	s.online.Add(1)
	defer s.online.Add(-1)

	packet, err := protocol.ReadPacket(r)
	if err != nil {
		return err
	}
	login, err := protocol.DecodeLoginStart(packet)
	if err != nil {
		return err
	}

	logger.Info("Player %s tried to join", login.Name)

	payload, err := protocol.EncodeLoginDisconnect(s.DisconnectReason())
	if err != nil {
		return err
	}
	return protocol.WritePacket(w, protocol.LoginDisconnectID, payload)
}

// Status returns the current server-list entry.
func (s *Server) Status() *protocol.Status {
	return &protocol.Status{
		Version: protocol.StatusVersion{
			Name:     s.cfg.VersionName,
			Protocol: s.cfg.ProtocolVersion,
		},
		Players: protocol.StatusPlayers{
			Max:    s.cfg.MaxPlayers,
			Online: s.Online(),
		},
		Description: protocol.ChatText{Text: s.cfg.MOTD},
	}
}

// DisconnectReason is shown to players whose login is refused.
func (s *Server) DisconnectReason() string {
	return fmt.Sprintf("%s server %s is not accepting players", s.cfg.Game, s.cfg.Name)
}

func (s *Server) connError(conn net.Conn, stage string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.logger.Debug("Connection %s failed during %s: %v", conn.RemoteAddr(), stage, err)
}
