package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/questions"
	"github.com/aura-classroom/backend/pkg/response"
)

const (
	sendBuffer     = 64
	writeWait      = 10 * time.Second
	commandTimeout = 15 * time.Second
	maxMessageSize = 65536
)

// Upgrader is shared by every connection. CheckOrigin is replaced by the server with the
// configured CORS origins.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is a single WebSocket connection hosting one projection.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      string
	hub       *Hub
	conn      *websocket.Conn
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger

	teacher *live.TeacherSession
	student *live.StudentSession
	// participantID is set for student connections.
	participantID uuid.UUID
	left          bool
}

// ServeWs upgrades GET /ws. Teachers pass session_id, students pass code (and optionally
// partner_student_id). The caller is authenticated by the JWT middleware.
func ServeWs(hub *Hub, svc live.Services, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		client := &Client{
			ID:     uuid.New().String(),
			UserID: middleware.UserID(c),
			Role:   middleware.UserRole(c),
			hub:    hub,
			send:   make(chan Frame, sendBuffer),
			done:   make(chan struct{}),
			logger: logger,
		}

		switch client.Role {
		case auth.RoleTeacher:
			sessionID, err := uuid.Parse(c.Query("session_id"))
			if err != nil {
				response.BadRequest(c, "session_id required")
				return
			}
			client.teacher = live.NewTeacherSession(svc, client.UserID, logger)
			if err := client.teacher.Attach(ctx, sessionID); err != nil {
				response.Error(c, err)
				return
			}
			client.SessionID = sessionID
		case auth.RoleStudent:
			var partner *uuid.UUID
			if raw := c.Query("partner_student_id"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					response.BadRequest(c, "invalid partner_student_id")
					return
				}
				partner = &id
			}
			client.student = live.NewStudentSession(svc, client.UserID, logger)
			p, err := client.student.Join(ctx, c.Query("code"), partner)
			if err != nil {
				response.Error(c, err)
				return
			}
			client.SessionID = p.SessionID
			client.participantID = p.ID
		default:
			response.Forbidden(c, "insufficient role")
			return
		}

		conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			client.stopProjection()
			return
		}
		client.conn = conn
		if !hub.Register(client) {
			_ = conn.Close()
			client.stopProjection()
			return
		}
		client.serve(svc)
	}
}

// serve runs the projection and both pumps until the connection ends.
func (c *Client) serve(svc live.Services) {
	runCtx, cancel := context.WithCancel(context.Background())
	var run func(context.Context) error
	if c.teacher != nil {
		c.teacher.OnChange(func(s live.TeacherSnapshot) { c.push(Frame{Type: FrameState, Data: s}) })
		c.push(Frame{Type: FrameState, Data: c.teacher.Snapshot()})
		run = c.teacher.Run
	} else {
		c.student.OnChange(func(s live.StudentSnapshot) { c.push(Frame{Type: FrameState, Data: s}) })
		c.push(Frame{Type: FrameState, Data: c.student.Snapshot()})
		run = c.student.Run
	}
	go func() {
		if err := run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("projection stopped", zap.String("client_id", c.ID), zap.Error(err))
		}
	}()
	go c.writePump()
	c.readPump(runCtx)

	cancel()
	c.stopProjection()
	c.hub.Unregister(c)
	c.close()
	if c.student != nil && !c.left {
		ctx, cancelMark := context.WithTimeout(context.Background(), commandTimeout)
		defer cancelMark()
		if _, err := svc.Participants.MarkDisconnected(ctx, c.participantID); err != nil {
			c.logger.Warn("mark participant disconnected failed", zap.String("participant_id", c.participantID.String()), zap.Error(err))
		}
	}
}

func (c *Client) stopProjection() {
	if c.teacher != nil {
		c.teacher.Close()
	}
	if c.student != nil {
		c.student.Close()
	}
}

// push queues a frame. A client that cannot keep up is disconnected and will resync on
// reconnect.
func (c *Client) push(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	default:
		c.logger.Warn("client send buffer full, closing", zap.String("client_id", c.ID))
		c.close()
	}
}

// close asks the write pump to flush and hang up.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		result, err := c.handle(cmdCtx, cmd)
		cancel()
		if err != nil {
			c.logger.Debug("command rejected", zap.String("client_id", c.ID), zap.String("command", cmd.Type), zap.Error(err))
			c.push(errorFrame(cmd.Ref, err))
			continue
		}
		c.push(Frame{Type: FrameAck, Ref: cmd.Ref, Data: result})
		if c.left {
			return
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) (any, error) {
	if c.teacher != nil {
		return c.handleTeacher(ctx, cmd)
	}
	return c.handleStudent(ctx, cmd)
}

func (c *Client) handleTeacher(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Type {
	case CmdUpdateSlide:
		var d slideData
		if err := decode(cmd.Data, &d); err != nil {
			return nil, err
		}
		return c.teacher.UpdateSlide(ctx, d.SlideIndex)
	case CmdPushQuestion:
		var d questions.PushRequest
		if err := decode(cmd.Data, &d); err != nil {
			return nil, err
		}
		return c.teacher.PushQuestion(ctx, questions.PushParams{
			SlideIndex:       d.SlideIndex,
			Prompt:           d.Prompt,
			Options:          d.Options,
			CorrectAnswer:    d.CorrectAnswer,
			Explanation:      d.Explanation,
			TimeLimitSeconds: d.TimeLimitSeconds,
		})
	case CmdCloseQuestion:
		return c.teacher.CloseQuestion(ctx)
	case CmdEndSession:
		return c.teacher.End(ctx)
	}
	return nil, errUnknownCommand
}

func (c *Client) handleStudent(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Type {
	case CmdSubmitAnswer:
		var d answerData
		if err := decode(cmd.Data, &d); err != nil {
			return nil, err
		}
		return c.student.SubmitAnswer(ctx, d.Value)
	case CmdLeave:
		p, err := c.student.Leave(ctx)
		if err != nil {
			return nil, err
		}
		c.left = true
		return p, nil
	}
	return nil, errUnknownCommand
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Invalid("command data required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("invalid command data: " + err.Error())
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes frames queued before close, such as the ack of a leave command.
func (c *Client) flush() {
	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// CheckOrigin builds an origin check from allowed origins; "*" allows any.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
