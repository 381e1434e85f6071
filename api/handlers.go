package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/assist"
	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
	"github.com/Jb-rown/embrace-cancer-care-sub000/subscription"
)

const (
	maxCommandBody = 64 << 10
	maxAssistBody  = 16 << 10
	maxCommands    = 50
)

// Deps carries everything the HTTP layer needs. Assist may be nil when no
// completion endpoint is configured; the route then answers 503.
type Deps struct {
	Store    Storage
	Auth     Authenticator
	Assist   Completer
	Subs     *subscription.Manager
	Logger   *log.Logger
	Registry *prometheus.Registry
}

type server struct {
	deps Deps
}

// Register wires all routes onto e.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	s := &server{deps: d}

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if d.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	e.GET("/api/symptoms", s.getSymptoms)
	e.GET("/api/treatments", s.getTreatments)
	e.GET("/api/appointments", s.getAppointments)
	e.GET("/api/posts", s.getPosts)
	e.POST("/api/commands", s.postCommands)
	e.POST("/api/assist", s.postAssist)
	e.GET("/stream", s.streamUpdates)
}

func (s *server) identity(c echo.Context) (Identity, error) {
	id, err := s.deps.Auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return id, nil
}

func (s *server) getSymptoms(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	records, err := s.deps.Store.ListSymptoms(c.Request().Context(), id.ID)
	if err != nil {
		s.deps.Logger.WithError(err).Error("unable to list symptoms")
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, records)
}

func (s *server) getTreatments(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	records, err := s.deps.Store.ListTreatments(c.Request().Context(), id.ID)
	if err != nil {
		s.deps.Logger.WithError(err).Error("unable to list treatments")
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, records)
}

func (s *server) getAppointments(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	records, err := s.deps.Store.ListAppointments(c.Request().Context(), id.ID)
	if err != nil {
		s.deps.Logger.WithError(err).Error("unable to list appointments")
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, records)
}

// getPosts is public read: blog posts are not scoped to a user.
func (s *server) getPosts(c echo.Context) error {
	records, err := s.deps.Store.ListPosts(c.Request().Context())
	if err != nil {
		s.deps.Logger.WithError(err).Error("unable to list posts")
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, records)
}

type commandBatch struct {
	Commands []commandRequest `json:"commands"`
}

type commandRequest struct {
	EntityType domain.EntityType      `json:"entityType"`
	Op         domain.Operation       `json:"op"`
	EntityID   string                 `json:"entityId,omitempty"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
}

func (r commandRequest) validate() error {
	if !r.EntityType.Known() {
		return errors.New("unknown entity type")
	}
	switch r.Op {
	case domain.OpCreated:
		if len(r.Data) == 0 {
			return errors.New("created command requires data")
		}
	case domain.OpUpdated:
		if r.EntityID == "" {
			return errors.New("updated command requires entityId")
		}
		if len(r.Data) == 0 {
			return errors.New("updated command requires data")
		}
	case domain.OpDeleted:
		if r.EntityID == "" {
			return errors.New("deleted command requires entityId")
		}
	default:
		return errors.New("unknown operation")
	}
	return nil
}

// postCommands accepts a batch of write commands and enqueues them for the
// change relay. Writes are never applied inline; callers observe their own
// mutation through the change feed once the relay has confirmed it.
func (s *server) postCommands(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}

	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxCommandBody))
	dec.DisallowUnknownFields()
	var batch commandBatch
	if err := dec.Decode(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if len(batch.Commands) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no commands provided")
	}
	if len(batch.Commands) > maxCommands {
		return echo.NewHTTPError(http.StatusBadRequest, "too many commands in one batch")
	}

	cmds := make([]domain.Command, 0, len(batch.Commands))
	for _, req := range batch.Commands {
		if err := req.validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		// Blog posts are global content; patients cannot author them.
		if !req.EntityType.Scoped() && id.Role == RolePatient {
			return echo.NewHTTPError(http.StatusForbidden, "role cannot modify posts")
		}
		entityID := req.EntityID
		if entityID == "" {
			entityID = uuid.NewString()
		}
		key := uuid.NewString()
		cmds = append(cmds, domain.Command{
			ID:             key,
			IdempotencyKey: key,
			EntityType:     req.EntityType,
			Op:             req.Op,
			EntityID:       entityID,
			Data:           req.Data,
			Timestamp:      nextTimestamp(),
		})
	}

	if err := s.deps.Store.EnqueueCommands(c.Request().Context(), id.ID, cmds); err != nil {
		s.deps.Logger.WithError(err).WithField("user_id", id.ID).Error("unable to enqueue commands")
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.EntityID
	}
	return c.JSON(http.StatusAccepted, map[string]any{"accepted": len(cmds), "entityIds": ids})
}

type assistRequest struct {
	Feature string `json:"feature"`
	Prompt  string `json:"prompt"`
}

// postAssist proxies a prompt to the completion backend. Failures come back
// as a dismissable error payload rather than a bare status so the client can
// surface them inline.
func (s *server) postAssist(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	if s.deps.Assist == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "assist is not configured"})
	}

	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxAssistBody))
	var req assistRequest
	if err := dec.Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	text, err := s.deps.Assist.Complete(c.Request().Context(), req.Feature, req.Prompt)
	if err != nil {
		if errors.Is(err, assist.ErrRateLimited) {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many requests, try again shortly"})
		}
		s.deps.Logger.WithError(err).WithField("user_id", id.ID).Error("assist completion failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "assistant is unavailable right now"})
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}
