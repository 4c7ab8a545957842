package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sncs/nursecall-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	sweepInterval = 30 * time.Second
	drainTimeout  = 10 * time.Second

	// rejectRetryAfter is suggested to clients turned away at capacity.
	rejectRetryAfter = 30

	// maxInboundPerMinute bounds control messages per connection. The
	// protocol is auth, subscribe and pings; anything chattier is a
	// misbehaving client.
	maxInboundPerMinute = 120
)

// Authenticator resolves a claimed user id to an active identity.
// A nil identity with a nil error means the user is unknown or
// deactivated.
type Authenticator func(ctx context.Context, userID int64) (*domain.Identity, error)

// Server owns the websocket listener: upgrades, the auth handshake,
// ping handling and the pending-connection sweep.
type Server struct {
	hub      *Hub
	authFn   Authenticator
	logger   *zap.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(port int, hub *Hub, authFn Authenticator, logger *zap.Logger) (*Server, error) {
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if authFn == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		hub:    hub,
		authFn: authFn,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard and the patient app are served from other
			// origins; session checks happen in the auth handshake.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s, nil
}

// Start serves until the context is canceled, then notifies clients
// and drains.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.sweepLoop(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket server shutdown: %w", err)
	}
	return nil
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.SweepPending(time.Now().UTC())
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newGorillaConn(raw)
	client, err := s.hub.Register(conn, time.Now().UTC())
	if err != nil {
		if env, envErr := NewEnvelope(TypeError, ErrorPayload{Reason: err.Error(), RetryAfter: rejectRetryAfter}); envErr == nil {
			_ = conn.WriteJSON(env)
		}
		_ = conn.Close()
		return
	}

	go s.readLoop(r.Context(), client, conn)
}

func (s *Server) readLoop(ctx context.Context, client *Client, conn Conn) {
	defer func() {
		s.hub.Unregister(client)
		_ = conn.Close()
	}()

	windowStart := time.Now()
	inWindow := 0

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if now := time.Now(); now.Sub(windowStart) >= time.Minute {
			windowStart = now
			inWindow = 0
		}
		inWindow++
		if inWindow > maxInboundPerMinute {
			s.logger.Warn("closing chatty websocket client",
				zap.String("remote", conn.RemoteAddr()),
			)
			s.reply(conn, TypeError, ErrorPayload{Reason: "message rate exceeded", RetryAfter: rejectRetryAfter})
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.reply(conn, TypeError, ErrorPayload{Reason: "malformed message"})
			continue
		}

		switch envelope.Type {
		case TypeAuth:
			s.handleAuth(ctx, client, conn, envelope.Payload)
		case TypeSubscribe:
			s.handleSubscribe(client, conn, envelope.Payload)
		case TypePing:
			s.reply(conn, TypePong, nil)
		default:
			s.reply(conn, TypeError, ErrorPayload{Reason: "unknown message type"})
		}
	}
}

func (s *Server) handleSubscribe(client *Client, conn Conn, payload json.RawMessage) {
	var sub SubscribePayload
	if err := json.Unmarshal(payload, &sub); err != nil || sub.DeptID <= 0 {
		s.reply(conn, TypeError, ErrorPayload{Reason: "invalid subscribe payload"})
		return
	}

	if !s.hub.Subscribe(client, sub.DeptID) {
		s.reply(conn, TypeError, ErrorPayload{Reason: "authenticate first"})
		return
	}
	s.reply(conn, TypeSubscribed, SubscribedPayload{DeptID: sub.DeptID})
}

func (s *Server) handleAuth(ctx context.Context, client *Client, conn Conn, payload json.RawMessage) {
	var auth AuthPayload
	if err := json.Unmarshal(payload, &auth); err != nil || auth.UserID <= 0 {
		s.reply(conn, TypeAuthError, ErrorPayload{Reason: "invalid auth payload"})
		return
	}

	identity, err := s.authFn(ctx, auth.UserID)
	if err != nil {
		s.logger.Error("websocket auth lookup failed",
			zap.Int64("userId", auth.UserID),
			zap.Error(err),
		)
		s.reply(conn, TypeAuthError, ErrorPayload{Reason: "auth unavailable"})
		return
	}
	if identity == nil {
		s.reply(conn, TypeAuthError, ErrorPayload{Reason: "unknown or inactive user"})
		return
	}

	s.hub.Authenticate(client, *identity)
	s.reply(conn, TypeAuthOK, AuthOKPayload{
		UserID:     identity.UserID,
		Role:       identity.Role,
		HospitalID: identity.HospitalID,
		DeptID:     identity.DeptID,
	})
}

func (s *Server) reply(conn Conn, messageType string, payload any) {
	envelope, err := NewEnvelope(messageType, payload)
	if err != nil {
		s.logger.Error("failed to build websocket reply", zap.Error(err))
		return
	}
	_ = conn.WriteJSON(envelope)
}
