package websocket

import (
	"context"
	"dm-relay/auth"
	"dm-relay/domain/chat"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"dm-relay/services"
	"dm-relay/sink"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultAuthTimeout     = 10 * time.Second
	DefaultDeliveryTimeout = 500 * time.Millisecond
	DefaultBufferSize      = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
	closeGraceWait = time.Second
)

type Config struct {
	AuthTimeout          time.Duration
	DeliveryTimeout      time.Duration
	ConnectionBufferSize int
}

// Gateway upgrades HTTP requests to realtime channels.
// One channel lives for exactly one authenticated user: authenticate, join,
// read sends until the peer goes away, then leave on every exit path.
type Gateway struct {
	log         *slog.Logger
	chatService services.IChatService
	tokens      auth.ITokenValidator
	upgrader    websocket.Upgrader
	config      Config
	// active counts handlers, hijacked ones included, which http.Server.Shutdown does not wait for.
	active sync.WaitGroup
}

func NewGateway(log *slog.Logger, chatService services.IChatService, tokens auth.ITokenValidator, config Config) *Gateway {
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = DefaultAuthTimeout
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if config.ConnectionBufferSize <= 0 {
		config.ConnectionBufferSize = DefaultBufferSize
	}
	return &Gateway{
		log:         log,
		chatService: chatService,
		tokens:      tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Credentials are bearer tokens, not cookies, so cross-origin upgrades are harmless.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		config: config,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade, while the server still tracks the request.
	g.active.Add(1)
	defer g.active.Done()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("Upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	userID, err := g.authenticate(conn, r)
	if err != nil {
		g.log.Debug("Channel rejected", "remote", r.RemoteAddr, "error", err)
		g.reject(conn)
		return
	}

	channel, err := sink.NewConnectionSink(userID, g.config.ConnectionBufferSize, g.config.DeliveryTimeout)
	if err != nil {
		g.log.Error("Unable to open channel", "user_id", userID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	g.chatService.Join(userID, channel)
	defer func() {
		g.chatService.Leave(userID, channel)
		channel.Close()
		cancel()
		g.log.Debug("Channel closed", "user_id", userID, "channel", channel.ID())
	}()

	// Ready is the first frame after authentication; the buffer is empty here.
	_ = channel.Consume(ctx, event.Ready{UserID: userID})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writePump(conn, channel)
		cancel()
	}()
	// Server shutdown cancels ctx: closing the channel lets the pump say goodbye and unblocks the reader.
	go func() {
		<-ctx.Done()
		channel.Close()
	}()

	g.readLoop(ctx, conn, userID, channel)
	channel.Close()
	<-writerDone
}

// Wait blocks until every channel has left the registry and its in-flight send has returned.
// Call it after the HTTP server stopped accepting connections and before storage is closed.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// authenticate prefers the upgrade header and falls back to a first "auth" frame
// that must arrive within AuthTimeout.
func (g *Gateway) authenticate(conn *websocket.Conn, r *http.Request) (chat.UserID, error) {
	if token := auth.BearerToken(r); token != "" {
		return g.validate(token)
	}

	if err := conn.SetReadDeadline(time.Now().Add(g.config.AuthTimeout)); err != nil {
		return "", err
	}
	var frame InboundFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return "", errors.ErrUnauthorized
	}
	if frame.Event != inboundAuth || frame.Token == "" {
		return "", errors.ErrUnauthorized
	}
	return g.validate(frame.Token)
}

func (g *Gateway) validate(token string) (chat.UserID, error) {
	claims, err := g.tokens.Validate(token)
	if err != nil {
		return "", err
	}
	userID := chat.UserID(claims.UserID)
	if !chat.ValidUserID(userID) {
		return "", errors.ErrUnauthorized
	}
	return userID, nil
}

// reject writes the unauthorized error then closes; nothing was registered yet.
func (g *Gateway) reject(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(ErrorFrame{Event: string(event.ErrorName), Reason: errors.Reason(errors.ErrUnauthorized)})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
		time.Now().Add(closeGraceWait))
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, userID chat.UserID, channel *sink.ConnectionSink) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("Channel read failed", "user_id", userID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.rejectSend(ctx, channel, errors.ErrMalformedFrame, "")
			continue
		}

		switch frame.Event {
		case inboundSend:
			g.handleSend(ctx, userID, channel, frame)
		case inboundAuth:
			// Already authenticated; a repeated auth frame is harmless.
		default:
			g.rejectSend(ctx, channel, errors.ErrUnknownEvent, frame.ClientID)
		}
	}
}

func (g *Gateway) handleSend(ctx context.Context, userID chat.UserID, channel *sink.ConnectionSink, frame InboundFrame) {
	msg, err := g.chatService.SendMessage(ctx, channel.ID(), chat.SendMessageCommand{
		SenderID:   userID,
		ReceiverID: chat.UserID(frame.ReceiverID),
		Content:    frame.Content,
		ClientID:   frame.ClientID,
	})
	if err != nil {
		g.rejectSend(ctx, channel, err, frame.ClientID)
		return
	}
	if err := channel.Consume(ctx, event.MessageSent{Message: msg, ClientID: frame.ClientID}); err != nil {
		g.log.Debug("Ack dropped", "user_id", userID, "message_id", msg.ID, "error", err)
	}
}

func (g *Gateway) rejectSend(ctx context.Context, channel *sink.ConnectionSink, err error, clientID string) {
	rejected := event.SendRejected{Reason: errors.Reason(err), ClientID: clientID}
	if errors.Is(err, errors.ErrValidation) {
		rejected.Detail = err.Error()
	} else {
		g.log.Warn("Send failed", "channel", channel.ID(), "error", err)
	}
	if err := channel.Consume(ctx, rejected); err != nil {
		g.log.Debug("Error event dropped", "channel", channel.ID(), "error", err)
	}
}

// writePump is the only writer of conn once the channel is registered.
func (g *Gateway) writePump(conn *websocket.Conn, channel *sink.ConnectionSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-channel.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGraceWait))
			_ = conn.Close()
			return
		case evt := <-channel.Events():
			frame, ok := toFrame(evt)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				g.log.Debug("Channel write failed", "channel", channel.ID(), "error", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
