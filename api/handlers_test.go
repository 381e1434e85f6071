package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/assist"
	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

type fakeStorage struct {
	symptoms []domain.Symptom
	posts    []domain.BlogPost
	enqueued map[string][]domain.Command
	listErr  error
}

func (f *fakeStorage) ListSymptoms(ctx context.Context, userID string) ([]domain.Symptom, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []domain.Symptom{}
	for _, s := range f.symptoms {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStorage) ListTreatments(ctx context.Context, userID string) ([]domain.Treatment, error) {
	return nil, f.listErr
}

func (f *fakeStorage) ListAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	return nil, f.listErr
}

func (f *fakeStorage) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	return f.posts, f.listErr
}

func (f *fakeStorage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if f.enqueued == nil {
		f.enqueued = make(map[string][]domain.Command)
	}
	f.enqueued[userID] = append(f.enqueued[userID], cmds...)
	return nil
}

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(ctx context.Context, feature, prompt string) (string, error) {
	return f.text, f.err
}

func newTestServer(t *testing.T, store *fakeStorage, completer Completer) *echo.Echo {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	e := echo.New()
	Register(e, Deps{
		Store:  store,
		Auth:   testAuth(t),
		Assist: completer,
		Logger: logger,
	})
	return e
}

func bearerFor(t *testing.T, sub, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims[roleClaim] = role
	}
	return "Bearer " + signToken(t, claims)
}

func TestGetSymptomsRequiresAuth(t *testing.T) {
	e := newTestServer(t, &fakeStorage{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/symptoms", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetSymptomsReturnsOwnRecords(t *testing.T) {
	store := &fakeStorage{symptoms: []domain.Symptom{
		{ID: "a", UserID: "u1", Name: "Nausea"},
		{ID: "b", UserID: "u2", Name: "Headache"},
	}}
	e := newTestServer(t, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/symptoms", nil)
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "u1", ""))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var got []domain.Symptom
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestGetPostsIsPublic(t *testing.T) {
	store := &fakeStorage{posts: []domain.BlogPost{{ID: "p1", Title: "Staying active"}}}
	e := newTestServer(t, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func postJSON(t *testing.T, e *echo.Echo, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPostCommandsEnqueues(t *testing.T) {
	store := &fakeStorage{}
	e := newTestServer(t, store, nil)

	body := `{"commands":[
		{"entityType":"symptom","op":"created","data":{"symptomName":"Nausea","severity":4}},
		{"entityType":"symptom","op":"deleted","entityId":"old-id"}
	]}`
	rec := postJSON(t, e, "/api/commands", bearerFor(t, "u1", ""), body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	cmds := store.enqueued["u1"]
	if len(cmds) != 2 {
		t.Fatalf("enqueued %d commands", len(cmds))
	}
	if cmds[0].EntityID == "" {
		t.Fatal("created command did not get an entity id")
	}
	if cmds[0].IdempotencyKey == "" || cmds[0].IdempotencyKey == cmds[1].IdempotencyKey {
		t.Fatal("idempotency keys missing or not unique")
	}
	if cmds[1].Timestamp <= cmds[0].Timestamp {
		t.Fatalf("timestamps not increasing: %d, %d", cmds[0].Timestamp, cmds[1].Timestamp)
	}
}

func TestPostCommandsValidation(t *testing.T) {
	e := newTestServer(t, &fakeStorage{}, nil)
	auth := bearerFor(t, "u1", "")

	cases := []struct {
		name string
		body string
	}{
		{"empty batch", `{"commands":[]}`},
		{"created without data", `{"commands":[{"entityType":"symptom","op":"created"}]}`},
		{"updated without id", `{"commands":[{"entityType":"symptom","op":"updated","data":{}}]}`},
		{"unknown entity", `{"commands":[{"entityType":"note","op":"created","data":{}}]}`},
		{"unknown op", `{"commands":[{"entityType":"symptom","op":"archived","entityId":"a"}]}`},
		{"unknown field", `{"commands":[],"replay":true}`},
		{"not json", `nope`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, e, "/api/commands", auth, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}
}

func TestPostCommandsBlogPostRoleGuard(t *testing.T) {
	store := &fakeStorage{}
	e := newTestServer(t, store, nil)
	body := `{"commands":[{"entityType":"blog-post","op":"created","data":{"title":"t","content":"c"}}]}`

	rec := postJSON(t, e, "/api/commands", bearerFor(t, "u1", ""), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patient post: status = %d", rec.Code)
	}
	rec = postJSON(t, e, "/api/commands", bearerFor(t, "prov-1", "provider"), body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("provider post: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestPostAssist(t *testing.T) {
	e := newTestServer(t, &fakeStorage{}, &fakeCompleter{text: "Try smaller meals through the day."})
	rec := postJSON(t, e, "/api/assist", bearerFor(t, "u1", ""), `{"feature":"symptom-notes","prompt":"nausea tips"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["text"] == "" {
		t.Fatal("missing completion text")
	}
}

func TestPostAssistRateLimited(t *testing.T) {
	e := newTestServer(t, &fakeStorage{}, &fakeCompleter{err: assist.ErrRateLimited})
	rec := postJSON(t, e, "/api/assist", bearerFor(t, "u1", ""), `{"prompt":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostAssistBackendFailure(t *testing.T) {
	e := newTestServer(t, &fakeStorage{}, &fakeCompleter{err: errors.New("upstream down")})
	rec := postJSON(t, e, "/api/assist", bearerFor(t, "u1", ""), `{"prompt":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] == "" {
		t.Fatal("missing dismissable error payload")
	}
}

func TestPostAssistUnconfigured(t *testing.T) {
	e := newTestServer(t, &fakeStorage{}, nil)
	rec := postJSON(t, e, "/api/assist", bearerFor(t, "u1", ""), `{"prompt":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
