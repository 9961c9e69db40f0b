package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/dispatch"
	"remindd/internal/models"
	"remindd/internal/service"
	"remindd/internal/testutil"
)

type env struct {
	store     *testutil.FakeStore
	registry  *testutil.FakeRegistry
	transport *testutil.FakeTransport
	timers    *testutil.FakeTimers
	handler   http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:     testutil.NewFakeStore(),
		registry:  testutil.NewFakeRegistry(),
		transport: testutil.NewFakeTransport(),
		timers:    testutil.NewFakeTimers(),
	}
	d := dispatch.New(e.store, e.registry, e.transport, e.timers, zerolog.Nop())
	svc := service.New(e.store, e.timers, d, zerolog.Nop())
	e.handler = New(svc, e.registry, d, zerolog.Nop()).Handler()
	return e
}

func (e *env) do(t *testing.T, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func createBody(fireAt time.Time) string {
	return fmt.Sprintf(`{"title":"water the plants","subject_ref":"note-1","fire_at":%q}`, fireAt.Format(time.RFC3339))
}

func TestCreateReminder(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/reminders", "owner-1", createBody(time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var rows []*models.Reminder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "owner-1", rows[0].OwnerID)
	assert.Equal(t, 1, e.timers.ArmedCount())
}

func TestCreateReminder_PastFireAtIsRejected(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/reminders", "owner-1", createBody(time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingOwnerHeader(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/reminders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetReminder_NotFoundAndCrossOwner(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/reminders", "owner-1", createBody(time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var rows []*models.Reminder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	id := rows[0].ID

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/reminders/"+id, "owner-1", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/reminders/"+id, "owner-2", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/reminders/ghost", "owner-1", "").Code)
}

func TestDeleteReminder(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/reminders", "owner-1", createBody(time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var rows []*models.Reminder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	id := rows[0].ID

	rec = e.do(t, http.MethodDelete, "/api/v1/reminders/"+id, "owner-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	// Gone now.
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/reminders/"+id, "owner-1", "").Code)
}

func TestTriggerNow_ExactlyOnce(t *testing.T) {
	e := newEnv(t)
	e.registry.Register(t.Context(), &models.Endpoint{
		OwnerID: "owner-1", DeviceID: "d1", Token: "tok", Platform: models.PlatformPush,
	})
	rec := e.do(t, http.MethodPost, "/api/v1/reminders", "owner-1", createBody(time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var rows []*models.Reminder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	id := rows[0].ID

	rec = e.do(t, http.MethodPost, "/api/v1/reminders/"+id+"/trigger", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.DeliverySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, models.DeliverySummary{Attempted: 1, Delivered: 1}, summary)

	// A second trigger is a no-op.
	rec = e.do(t, http.MethodPost, "/api/v1/reminders/"+id+"/trigger", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Zero(t, summary)
	assert.Equal(t, 1, e.transport.Count())
}

func TestSyncReminders(t *testing.T) {
	e := newEnv(t)
	body := fmt.Sprintf(`{"reminders":[{"subject_ref":"n1","title":"a","fire_at":%q}]}`,
		time.Now().Add(time.Hour).Format(time.RFC3339))

	rec := e.do(t, http.MethodPost, "/api/v1/reminders/sync", "owner-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"created":1,"updated":0,"total":1}`, rec.Body.String())
}

func TestEndpointRegisterAndRemove(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/endpoints", "owner-1", `{"device_id":"phone","token":"tok-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var endpoint models.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endpoint))
	assert.Equal(t, models.PlatformPush, endpoint.Platform)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/v1/endpoints/phone", "owner-1", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/endpoints/phone", "owner-1", "").Code)

	rec = e.do(t, http.MethodPost, "/api/v1/endpoints", "owner-1", `{"device_id":"phone"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
