package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kavos113/quickctf/ctf-instancer/challenge"
	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

type Catalog interface {
	Get(name string) (*challenge.Challenge, error)
}

type RequestObserver interface {
	ObserveRequest(route, outcome string)
}

type stateResponse struct {
	State domain.State `json:"state"`
}

// messageResponse is the list-shaped body used for every non-state outcome.
type messageResponse []string

const (
	outcomeState    = "state"
	outcomeNotFound = "not_found"
	outcomeNotRun   = "not_running"
	outcomeError    = "error"
)

type InstanceHandler struct {
	catalog  Catalog
	observer RequestObserver
	logger   *slog.Logger
}

func NewInstanceHandler(catalog Catalog, observer RequestObserver, logger *slog.Logger) *InstanceHandler {
	return &InstanceHandler{
		catalog:  catalog,
		observer: observer,
		logger:   logger.With(slog.String("component", "handler")),
	}
}

func (h *InstanceHandler) Start(c echo.Context) error {
	ch, ok, err := h.lookup(c, "start")
	if !ok {
		return err
	}

	state, err := ch.Start(requestContext(c), c.Param("user"))
	if err != nil {
		return h.backendError(c, "start", err)
	}
	return h.state(c, "start", state)
}

func (h *InstanceHandler) Status(c echo.Context) error {
	ch, ok, err := h.lookup(c, "status")
	if !ok {
		return err
	}
	return h.state(c, "status", ch.Status(c.Param("user")))
}

func (h *InstanceHandler) Stop(c echo.Context) error {
	ch, ok, err := h.lookup(c, "stop")
	if !ok {
		return err
	}

	result, state, err := ch.Stop(requestContext(c), c.Param("user"))
	if err != nil {
		return h.backendError(c, "stop", err)
	}

	switch result {
	case domain.StopResultNotRunning:
		h.observe("stop", outcomeNotRun)
		return c.JSON(http.StatusOK, messageResponse{domain.StopResultNotRunning.String()})
	case domain.StopResultStopped:
		return h.state(c, "stop", domain.StateStopped)
	default:
		return h.state(c, "stop", state)
	}
}

// lookup resolves the challenge path parameter. When it reports false the
// response has already been written and the returned error is the write
// result.
func (h *InstanceHandler) lookup(c echo.Context, route string) (*challenge.Challenge, bool, error) {
	name := c.Param("challenge")
	ch, err := h.catalog.Get(name)
	if err == nil {
		return ch, true, nil
	}

	if errors.Is(err, domain.ErrChallengeNotFound) {
		h.observe(route, outcomeNotFound)
		return nil, false, c.JSON(http.StatusOK, messageResponse{domain.NotFoundMessage(name)})
	}
	return nil, false, h.backendError(c, route, err)
}

func (h *InstanceHandler) state(c echo.Context, route string, state domain.State) error {
	h.observe(route, outcomeState)
	return c.JSON(http.StatusOK, stateResponse{State: state})
}

func (h *InstanceHandler) backendError(c echo.Context, route string, err error) error {
	h.logger.Error("request failed",
		slog.String("route", route),
		slog.String("user_id", c.Param("user")),
		slog.String("challenge", c.Param("challenge")),
		slog.Any("error", err),
	)
	h.observe(route, outcomeError)
	return c.JSON(http.StatusOK, messageResponse{err.Error()})
}

func (h *InstanceHandler) observe(route, outcome string) {
	if h.observer != nil {
		h.observer.ObserveRequest(route, outcome)
	}
}

func requestContext(c echo.Context) context.Context {
	return c.Request().Context()
}
