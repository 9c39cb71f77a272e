package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/historia/internal/agent"
)

// Session is the orchestrator surface the presentation layer drives.
type Session interface {
	Snapshot() agent.State
	Subscribe() (<-chan agent.State, func())
	SetInput(text string) error
	Send(text string) error
	Replay(messageID string) error
	StartRecording() error
	StopRecording() error
	NewChat() error
	SelectChat(id string) error
	DeleteChat(id string) error
	ClearHistory() error
	ToggleSpeechOutput() error
	StopSpeech() error
	DismissError() error
}

type Handlers struct {
	Session Session
}

func NewHandlers(s Session) Handlers {
	return Handlers{Session: s}
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.GET("/state", h.state)
	api.GET("/events", h.events)
	api.PUT("/input", h.setInput)
	api.POST("/messages", h.send)
	api.POST("/messages/:id/replay", h.intent(func(c echo.Context) error { return h.Session.Replay(c.Param("id")) }))
	api.POST("/recording/start", h.intent(func(echo.Context) error { return h.Session.StartRecording() }))
	api.POST("/recording/stop", h.intent(func(echo.Context) error { return h.Session.StopRecording() }))
	api.POST("/chats", h.intent(func(echo.Context) error { return h.Session.NewChat() }))
	api.POST("/chats/:id/select", h.intent(func(c echo.Context) error { return h.Session.SelectChat(c.Param("id")) }))
	api.DELETE("/chats/:id", h.intent(func(c echo.Context) error { return h.Session.DeleteChat(c.Param("id")) }))
	api.DELETE("/chats", h.intent(func(echo.Context) error { return h.Session.ClearHistory() }))
	api.POST("/speech/toggle", h.intent(func(echo.Context) error { return h.Session.ToggleSpeechOutput() }))
	api.POST("/speech/stop", h.intent(func(echo.Context) error { return h.Session.StopSpeech() }))
	api.POST("/error/dismiss", h.intent(func(echo.Context) error { return h.Session.DismissError() }))
}

type textBody struct {
	Text string `json:"text"`
}

func (h Handlers) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Session.Snapshot())
}

func (h Handlers) setInput(c echo.Context) error {
	var body textBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.Session.SetInput(body.Text); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.Session.Snapshot())
}

// send submits the body text, or the current input draft when the body has none.
func (h Handlers) send(c echo.Context) error {
	var body textBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	text := body.Text
	if text == "" {
		text = h.Session.Snapshot().Input
	}
	if err := h.Session.Send(text); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, h.Session.Snapshot())
}

func (h Handlers) intent(fn func(echo.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := fn(c); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, h.Session.Snapshot())
	}
}

func httpError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrAlreadyGenerating),
		errors.Is(err, agent.ErrAlreadyRecording),
		errors.Is(err, agent.ErrNotReplayable):
		status = http.StatusConflict
	case errors.Is(err, agent.ErrUnknownChat), errors.Is(err, agent.ErrUnknownMessage):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, agent.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(status, err.Error())
}
