package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/session"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt: countdown ticks out, actions in.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	tickInterval   time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string, tickInterval time.Duration) *WSHandler {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		tickInterval:   tickInterval,
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
// Pushes the state once, a tick every interval and a finalized event when the
// attempt ends, here or on another instance. Accepts the session actions.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctrl, err := h.attemptService.Session(c.Request.Context(), attemptID, userID)
	if err != nil {
		status, code := classify(err)
		response.Fail(c, status, code)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	wsLog := h.log.With().
		Str("user_id", userID.String()).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan interface{}, 8)
	out <- ws.StateResponse{Event: ws.EventState, State: ctrl.State()}

	events := h.attemptService.Subscribe(ctx, attemptID)
	go h.writeLoop(ctx, cancel, conn, ctrl, events, out, wsLog)

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		for _, reply := range h.dispatch(ctx, ctrl, &msg) {
			select {
			case out <- reply:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writeLoop is the only writer on conn.
func (h *WSHandler) writeLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	ctrl *session.Controller,
	events <-chan model.AttemptEvent,
	out <-chan interface{},
	wsLog zerolog.Logger,
) {
	defer cancel()

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()
	pinger := time.NewTicker(ws.PingPeriod)
	defer pinger.Stop()

	finish := func(msg ws.FinalizedResponse) {
		_ = ws.WriteTyped(conn, msg)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(msg.Status)),
			time.Now().Add(time.Second))
		wsLog.Info().Str("status", string(msg.Status)).Msg("Attempt finalized, closing stream")
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-out:
			if err := ws.WriteTyped(conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			remaining := ctrl.Remaining()
			err := ws.WriteTyped(conn, ws.TickResponse{
				Event:            ws.EventTick,
				RemainingSeconds: remaining,
				TimerLevel:       session.LevelFor(remaining),
			})
			if err != nil {
				return
			}

		case <-ctrl.Done():
			res, _ := ctrl.Result()
			finish(ws.FinalizedResponse{
				Event:     ws.EventFinalized,
				AttemptID: res.Attempt.ID.String(),
				Status:    res.Attempt.Status,
				Trigger:   res.Trigger,
			})
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type != model.AttemptEventFinalized {
				continue
			}
			finish(ws.FinalizedResponse{
				Event:     ws.EventFinalized,
				AttemptID: ev.AttemptID.String(),
				Status:    ev.Status,
				Trigger:   session.Trigger(ev.Trigger),
			})
			return

		case <-pinger.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// dispatch applies one client action and builds the replies. A successful
// submit replies with the state; the finalized event follows from writeLoop.
func (h *WSHandler) dispatch(ctx context.Context, ctrl *session.Controller, msg *ws.RequestPayload) []interface{} {
	if fields := validator.Struct(msg); fields != nil {
		return []interface{}{errorReply(ws.EventError, response.ErrValidation)}
	}

	var err error
	switch msg.Action {
	case ws.ActionPing:
		return []interface{}{ws.PongResponse{Event: ws.EventPong}}
	case ws.ActionNavigate:
		if msg.Index == nil {
			return []interface{}{errorReply(ws.EventError, response.ErrValidation)}
		}
		_, err = ctrl.Navigate(*msg.Index)
	case ws.ActionAnswer:
		option, perr := model.ParseOption(msg.Option)
		if perr != nil {
			return []interface{}{errorReply(ws.EventError, response.ErrInvalidOption)}
		}
		_, err = ctrl.SelectAnswer(ctx, option)
	case ws.ActionClear:
		_, err = ctrl.ClearAnswer(ctx)
	case ws.ActionReview:
		_, err = ctrl.ToggleReview(ctx)
	case ws.ActionSubmit:
		_, err = ctrl.Submit(ctx, session.TriggerManual, msg.Confirm)
	}

	state := ws.StateResponse{Event: ws.EventState, State: ctrl.State()}
	switch {
	case err == nil:
		return []interface{}{state}
	case session.IsNonBlocking(err):
		h.log.Warn().Err(err).Str("attempt_id", ctrl.AttemptID().String()).Msg("Response change not persisted")
		return []interface{}{state, errorReply(ws.EventWarning, response.ErrPersistenceDelayed)}
	default:
		_, code := classify(err)
		return []interface{}{errorReply(ws.EventError, code)}
	}
}

func errorReply(event ws.Event, code response.ErrCode) ws.ErrorResponse {
	return ws.ErrorResponse{Event: event, Code: string(code), Error: response.GetMessage(code)}
}
