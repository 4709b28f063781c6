package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"melee-core/internal/game"
	"melee-core/internal/wire"
)

// ErrDespawned is reported by ClientSession.Err when the server removed the
// session's actor.
var ErrDespawned = errors.New("actor despawned by server")

// ClientSession connects a game.ClientActor to a server over websocket. It
// implements game.Sender.
type ClientSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	welcome wire.Welcome
	actor   *game.ClientActor

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// DialSession connects to url, waits for the welcome frame and creates the
// predicted actor. The server's tick rate overrides cfg.TickRate.
func DialSession(ctx context.Context, url string, cfg game.ClientConfig, catalog *game.ActionCatalog) (*ClientSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(wire.MaxMessageSize)

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode welcome: %w", err)
	}
	if f.Type != wire.MsgTypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected welcome frame, got message type %d", f.Type)
	}
	welcome, err := wire.DecodeWelcome(f.Body)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	if welcome.TickRate > 0 {
		cfg.TickRate = welcome.TickRate
	}

	s := &ClientSession{
		conn:    conn,
		welcome: welcome,
		done:    make(chan struct{}),
	}
	s.actor = game.NewClientActor(welcome.Actor, cfg, catalog, s)
	s.actor.Spawn(welcome.Spawn)

	go s.readLoop()
	return s, nil
}

// Actor returns the predicted actor.
func (s *ClientSession) Actor() *game.ClientActor {
	return s.actor
}

// Welcome returns the server's welcome message.
func (s *ClientSession) Welcome() wire.Welcome {
	return s.welcome
}

// Done is closed when the connection ends.
func (s *ClientSession) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended.
func (s *ClientSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close sends a normal close and tears the connection down.
func (s *ClientSession) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.finish(nil)
	return s.conn.Close()
}

// SendInput implements game.Sender.
func (s *ClientSession) SendInput(in game.InputPayload) error {
	frame, err := wire.Encode(wire.MsgTypeInput, s.welcome.Actor, wire.AppendInput(nil, in))
	if err != nil {
		return err
	}
	return s.write(frame)
}

// SendAction implements game.Sender.
func (s *ClientSession) SendAction(req game.ActionRequest) error {
	body, err := wire.EncodeActionRequest(req)
	if err != nil {
		return err
	}
	frame, err := wire.Encode(wire.MsgTypeActionRequest, s.welcome.Actor, body)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *ClientSession) write(frame []byte) error {
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *ClientSession) finish(err error) {
	s.errOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// readLoop routes server frames into the predicted actor.
func (s *ClientSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			s.finish(err)
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			continue
		}

		switch f.Type {
		case wire.MsgTypeState:
			if st, err := wire.ParseState(f.Body); err == nil {
				s.actor.ReceiveState(f.Actor, st)
			}
		case wire.MsgTypeActionBroadcast:
			if b, err := wire.DecodeActionBroadcast(f.Body); err == nil {
				s.actor.ReceiveAction(f.Actor, b)
			}
		case wire.MsgTypeDespawn:
			if f.Actor == s.welcome.Actor {
				s.finish(ErrDespawned)
				s.conn.Close()
				return
			}
			s.actor.Forget(f.Actor)
		}
	}
}
