package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventAdmission/internal/authz"
	"eventAdmission/internal/dto"
	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
	"eventAdmission/internal/service"
)

const (
	community = 10
	moderator = 1
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	repo    *repo.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	r := repo.NewMemoryRepository()
	r.SetRole(moderator, community, model.RoleModerator)
	logger := zerolog.Nop()
	svc := service.NewService(r, authz.NewChecker(r), nil, nil, &logger)
	return &testServer{
		t:       t,
		handler: NewRouters(&Routers{Service: svc, Log: &logger, RequestTimeout: 5 * time.Second}),
		repo:    r,
	}
}

func (s *testServer) do(method, path string, userID int64, body any) (*httptest.ResponseRecorder, dto.Response) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var resp dto.Response
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (s *testServer) createEvent(limit int) int64 {
	s.t.Helper()
	start := time.Now().Add(24 * time.Hour).UTC()
	w, resp := s.do(http.MethodPost, "/v1/communities/10/events", moderator, map[string]any{
		"title":             "Go meetup",
		"type":              "offline",
		"location":          "Room 1",
		"start_time":        start,
		"end_time":          start.Add(2 * time.Hour),
		"participant_limit": limit,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	data := resp.Data.(map[string]any)
	return int64(data["id"].(float64))
}

func dataField(resp dto.Response, key string) any {
	return resp.Data.(map[string]any)[key]
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w, resp := s.do(http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp.Status)
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)
	w, resp := s.do(http.MethodGet, "/v1/events/1", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.Unauthorized, resp.Error.Code)
}

func TestRegistrationFlow(t *testing.T) {
	s := newTestServer(t)
	eventID := s.createEvent(1)
	for _, uid := range []int64{2, 3} {
		s.repo.SetRole(uid, community, model.RoleMember)
	}
	base := "/v1/events/" + strconv.FormatInt(eventID, 10)

	w, resp := s.do(http.MethodPost, base+"/registrations", 2, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "registered", dataField(resp, "status"))

	w, resp = s.do(http.MethodPost, base+"/registrations", 3, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "waitlisted", dataField(resp, "status"))

	w, resp = s.do(http.MethodPost, base+"/registrations", 3, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, dto.RegistrationDuplicate, resp.Error.Code)

	w, resp = s.do(http.MethodGet, base, 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := dataField(resp, "stats").(map[string]any)
	assert.Equal(t, float64(1), stats["registered"])
	assert.Equal(t, float64(1), stats["waitlisted"])
	assert.Equal(t, float64(0), stats["free_seats"])

	w, _ = s.do(http.MethodDelete, base+"/registrations", 2, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w, resp = s.do(http.MethodGet, base+"/participants?status=registered", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	regs := resp.Data.([]any)
	require.Len(t, regs, 1)
	assert.Equal(t, float64(3), regs[0].(map[string]any)["user_id"])
}

func TestEventLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)
	eventID := s.createEvent(5)
	s.repo.SetRole(2, community, model.RoleMember)
	base := "/v1/events/" + strconv.FormatInt(eventID, 10)

	w, resp := s.do(http.MethodPatch, base, moderator, map[string]any{"participant_limit": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.FieldIncorrect, resp.Error.Code)

	w, resp = s.do(http.MethodPatch, base, 2, map[string]any{"title": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, dto.Forbidden, resp.Error.Code)

	w, resp = s.do(http.MethodPatch, base, moderator, map[string]any{"title": "Renamed", "participant_limit": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Renamed", dataField(resp, "title"))

	w, _ = s.do(http.MethodPost, base+"/status", moderator, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(http.MethodPost, base+"/status", moderator, map[string]any{"status": "published"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.InvalidState, resp.Error.Code)

	w, resp = s.do(http.MethodPost, base+"/registrations", 2, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.RegistrationClosed, resp.Error.Code)

	w, resp = s.do(http.MethodGet, "/v1/communities/10/events?status=completed", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataField(resp, "items").([]any), 1)

	w, _ = s.do(http.MethodDelete, base, moderator, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w, resp = s.do(http.MethodGet, base, moderator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.EventNotFound, resp.Error.Code)
}

func TestCommunityEventsPaging(t *testing.T) {
	s := newTestServer(t)
	s.repo.SetRole(2, community, model.RoleMember)
	first := s.createEvent(5)
	s.createEvent(5)
	s.createEvent(5)

	w, _ := s.do(http.MethodPost, "/v1/events/"+strconv.FormatInt(first, 10)+"/registrations", 2, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := s.do(http.MethodGet, "/v1/communities/10/events?page=2&page_size=2", 2, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), dataField(resp, "page"))
	assert.Equal(t, float64(2), dataField(resp, "page_size"))
	assert.Equal(t, false, dataField(resp, "has_next"))
	items := dataField(resp, "items").([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, float64(first), item["id"])
	assert.Equal(t, float64(1), item["registered_count"])

	w, resp = s.do(http.MethodGet, "/v1/communities/10/events?page_size=101", 2, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.FieldIncorrect, resp.Error.Code)

	w, resp = s.do(http.MethodGet, "/v1/communities/10/events?page=first", 2, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.FieldBadFormat, resp.Error.Code)
}

func TestParticipantsIncludeContacts(t *testing.T) {
	s := newTestServer(t)
	eventID := s.createEvent(5)
	s.repo.SetRole(2, community, model.RoleMember)
	s.repo.SetContact(model.Contact{UserID: 2, Email: "ann@example.com", FullName: "Ann Lee"})
	base := "/v1/events/" + strconv.FormatInt(eventID, 10)

	w, _ := s.do(http.MethodPost, base+"/registrations", 2, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := s.do(http.MethodGet, base+"/participants", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	regs := resp.Data.([]any)
	require.Len(t, regs, 1)
	p := regs[0].(map[string]any)
	assert.Equal(t, "ann@example.com", p["email"])
	assert.Equal(t, "Ann Lee", p["full_name"])
	assert.Equal(t, "registered", p["status"])
}

func TestAttendanceRoute(t *testing.T) {
	s := newTestServer(t)
	eventID := s.createEvent(5)
	s.repo.SetRole(2, community, model.RoleMember)
	base := "/v1/events/" + strconv.FormatInt(eventID, 10)

	w, _ := s.do(http.MethodPost, base+"/registrations", 2, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(http.MethodPost, base+"/attendance", moderator, map[string]any{"user_id": 2, "status": "registered"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := s.do(http.MethodPost, base+"/attendance", moderator, map[string]any{"user_id": 2, "status": "attended"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "attended", dataField(resp, "status"))
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(http.MethodGet, "/v1/events/abc", moderator, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.FieldBadFormat, resp.Error.Code)

	past := time.Now().Add(-time.Hour).UTC()
	w, resp = s.do(http.MethodPost, "/v1/communities/10/events", moderator, map[string]any{
		"title":      "Old",
		"type":       "online",
		"start_time": past,
		"end_time":   past.Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error.Desc, "future")
}
