package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
	"github.com/Jb-rown/embrace-cancer-care-sub000/store"
	"github.com/Jb-rown/embrace-cancer-care-sub000/subscription"
	"github.com/Jb-rown/embrace-cancer-care-sub000/views"
)

const (
	streamEventBuffer = 256
	heartbeatInterval = 30 * time.Second
)

// session holds one stream connection's in-memory state. Stores are touched
// only from the session goroutine; feed callbacks hand events over a channel
// instead of merging in place, which keeps the merge single threaded without
// locks.
type session struct {
	userID string
	log    *log.Logger

	symptoms     *store.Store[domain.Symptom]
	treatments   *store.Store[domain.Treatment]
	appointments *store.Store[domain.Appointment]
	posts        *store.Store[domain.BlogPost]

	events chan domain.ChangeEvent
	reseed chan struct{}
}

func newSession(userID string, logger *log.Logger) *session {
	return &session{
		userID:       userID,
		log:          logger,
		symptoms:     store.New[domain.Symptom](userID, store.MostRecentFirst[domain.Symptom]),
		treatments:   store.New[domain.Treatment](userID, store.MostRecentFirst[domain.Treatment]),
		appointments: store.New[domain.Appointment](userID, store.SoonestFirst[domain.Appointment]),
		posts:        store.New[domain.BlogPost]("", store.MostRecentFirst[domain.BlogPost]),
		events:       make(chan domain.ChangeEvent, streamEventBuffer),
		reseed:       make(chan struct{}, 1),
	}
}

// subscriber builds the feed callbacks for this session. OnEvent never
// blocks: a session too slow to drain its buffer falls back to a re-seed
// signal instead of wedging the shared feed, and the re-seed replaces its
// stores with a fresh bulk snapshot that covers whatever was dropped.
func (s *session) subscriber() subscription.Subscriber {
	signalReseed := func() {
		select {
		case s.reseed <- struct{}{}:
		default:
		}
	}
	return subscription.Subscriber{
		OnEvent: func(ev domain.ChangeEvent) {
			select {
			case s.events <- ev:
			default:
				signalReseed()
			}
		},
		OnReconnect: signalReseed,
	}
}

// apply merges one change event into the matching store and reports whether
// the visible state changed.
func (s *session) apply(ev domain.ChangeEvent) bool {
	switch ev.EntityType {
	case domain.EntitySymptom:
		typed, err := store.DecodeEvent[domain.Symptom](ev)
		if err != nil {
			s.log.WithError(err).Debug("dropping undecodable symptom event")
			return false
		}
		return s.symptoms.Apply(typed)
	case domain.EntityTreatment:
		typed, err := store.DecodeEvent[domain.Treatment](ev)
		if err != nil {
			s.log.WithError(err).Debug("dropping undecodable treatment event")
			return false
		}
		return s.treatments.Apply(typed)
	case domain.EntityAppointment:
		typed, err := store.DecodeEvent[domain.Appointment](ev)
		if err != nil {
			s.log.WithError(err).Debug("dropping undecodable appointment event")
			return false
		}
		return s.appointments.Apply(typed)
	case domain.EntityBlogPost:
		typed, err := store.DecodeEvent[domain.BlogPost](ev)
		if err != nil {
			s.log.WithError(err).Debug("dropping undecodable post event")
			return false
		}
		return s.posts.Apply(typed)
	}
	return false
}

// load seeds every store from the bulk listers. Events that arrived over the
// feed while a fetch was in flight stay authoritative because seeding only
// inserts records the stores have not seen.
func (s *session) load(ctx context.Context, st Storage) error {
	if err := store.NewLoader[domain.Symptom](store.ListerFunc[domain.Symptom](st.ListSymptoms), s.log).Load(ctx, s.symptoms); err != nil {
		return err
	}
	if err := store.NewLoader[domain.Treatment](store.ListerFunc[domain.Treatment](st.ListTreatments), s.log).Load(ctx, s.treatments); err != nil {
		return err
	}
	if err := store.NewLoader[domain.Appointment](store.ListerFunc[domain.Appointment](st.ListAppointments), s.log).Load(ctx, s.appointments); err != nil {
		return err
	}
	lister := store.ListerFunc[domain.BlogPost](func(ctx context.Context, _ string) ([]domain.BlogPost, error) {
		return st.ListPosts(ctx)
	})
	return store.NewLoader[domain.BlogPost](lister, s.log).Load(ctx, s.posts)
}

// reload replaces the session's stores with a fresh bulk snapshot. Seeding
// never overwrites, so after a feed gap the stores have to be rebuilt or an
// update or delete missed during the gap would stay invisible. The swap only
// happens on success; a failed reload keeps the previous state intact.
func (s *session) reload(ctx context.Context, st Storage) error {
	fresh := newSession(s.userID, s.log)
	if err := fresh.load(ctx, st); err != nil {
		return err
	}
	s.symptoms = fresh.symptoms
	s.treatments = fresh.treatments
	s.appointments = fresh.appointments
	s.posts = fresh.posts
	return nil
}

func (s *session) projection(now time.Time) views.Projection {
	return views.Build(now, s.symptoms.Snapshot(), s.treatments.Snapshot(), s.appointments.Snapshot(), s.posts.Snapshot())
}

// streamUpdates serves one live sync session over SSE. Subscriptions open
// before the bulk load starts so no event falls between the two, then every
// change (coalesced per wakeup) is pushed as a full projection frame.
func (s *server) streamUpdates(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		// EventSource cannot set headers, so browsers pass the token in the
		// query string instead.
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	id, err := s.deps.Auth.IdentityFromAuthHeader(authHeader)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	metrics, ctx := newStreamMetrics(c.Request().Context(), s.deps.Logger)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	sess := newSession(id.ID, s.deps.Logger)
	sub := sess.subscriber()

	var handles []*subscription.Handle
	defer func() {
		for _, h := range handles {
			s.deps.Subs.Close(h)
		}
	}()
	for _, want := range []struct {
		entity domain.EntityType
		scope  string
	}{
		{domain.EntitySymptom, id.ID},
		{domain.EntityTreatment, id.ID},
		{domain.EntityAppointment, id.ID},
		{domain.EntityBlogPost, ""},
	} {
		h, err := s.deps.Subs.Open(want.entity, want.scope, sub)
		if err != nil {
			metrics.SetErrorStage("subscribe")
			metrics.Finish(http.StatusInternalServerError, err)
			return err
		}
		handles = append(handles, h)
	}

	loadStart := time.Now()
	if err := sess.load(ctx, s.deps.Store); err != nil {
		if ctx.Err() != nil {
			metrics.Finish(http.StatusOK, nil)
			return nil
		}
		metrics.SetErrorStage("bulk_load")
		metrics.Finish(http.StatusInternalServerError, err)
		return err
	}
	metrics.ObserveLoad(time.Since(loadStart))

	writeFrame := func() error {
		payload, err := sonic.ConfigStd.Marshal(sess.projection(time.Now().UTC()))
		if err != nil {
			return err
		}
		if _, err := res.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := res.Write(payload); err != nil {
			return err
		}
		if _, err := res.Write([]byte("\n\n")); err != nil {
			return err
		}
		res.Flush()
		metrics.AddFrame()
		return nil
	}
	if err := writeFrame(); err != nil {
		metrics.SetErrorStage("write")
		metrics.Finish(http.StatusOK, err)
		return nil
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.Finish(http.StatusOK, nil)
			return nil
		case ev := <-sess.events:
			changed := sess.apply(ev)
			merged := 1
			// Drain whatever else is queued so a burst becomes one frame.
		drain:
			for {
				select {
				case ev := <-sess.events:
					if sess.apply(ev) {
						changed = true
					}
					merged++
				default:
					break drain
				}
			}
			metrics.AddEventsMerged(merged)
			if !changed {
				continue
			}
			if err := writeFrame(); err != nil {
				metrics.SetErrorStage("write")
				metrics.Finish(http.StatusOK, err)
				return nil
			}
		case <-sess.reseed:
			metrics.AddReseed()
			if err := sess.reload(ctx, s.deps.Store); err != nil {
				if ctx.Err() != nil {
					metrics.Finish(http.StatusOK, nil)
					return nil
				}
				s.deps.Logger.WithError(err).WithField("user_id", id.ID).Error("re-seed after reconnect failed")
				continue
			}
			if err := writeFrame(); err != nil {
				metrics.SetErrorStage("write")
				metrics.Finish(http.StatusOK, err)
				return nil
			}
		case <-heartbeat.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				metrics.Finish(http.StatusOK, nil)
				return nil
			}
			res.Flush()
		}
	}
}
