package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civicsync-dispatch/assignment"
	"civicsync-dispatch/escalation"
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"
	"civicsync-dispatch/notify"
	"civicsync-dispatch/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, primitive.ObjectID, string, string, map[string]interface{}) {}

type fakeInbox struct {
	items     []notify.Notification
	recipient primitive.ObjectID
	limit     int
}

func (f *fakeInbox) List(_ context.Context, recipient primitive.ObjectID, limit int) ([]notify.Notification, error) {
	f.recipient = recipient
	f.limit = limit
	return f.items, nil
}

type fakeRunner struct {
	report escalation.Report
	ran    bool
	err    error
}

func (f *fakeRunner) RunOnce(context.Context) (escalation.Report, bool, error) {
	return f.report, f.ran, f.err
}

// fakeAuth trusts X-User and X-Role so handlers can be driven without tokens.
func fakeAuth(c *gin.Context) {
	c.Set(middlewares.ContextUserID, c.GetHeader("X-User"))
	c.Set(middlewares.ContextRole, c.GetHeader("X-Role"))
	c.Next()
}

type harness struct {
	store  *store.MemoryStore
	router *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	engine := assignment.New(st, nopSink{}, time.Now)
	logger := zap.NewNop()

	issues := NewIssueController(st, engine, logger)
	officers := NewOfficerController(st, engine, logger)

	r := gin.New()
	api := r.Group("/api", fakeAuth)
	api.POST("/issues", issues.CreateIssue)
	api.GET("/issues", issues.GetAllIssues)
	api.GET("/issues/:id", issues.GetIssue)
	api.POST("/issues/classify", issues.ClassifyPreview)
	api.POST("/issues/:id/vote", issues.HandleVoteOnIssue)
	api.POST("/issues/:id/assign", issues.AssignIssue)
	api.PATCH("/issues/:id/status", issues.UpdateStatus)
	api.POST("/officers", officers.CreateOfficer)
	api.GET("/officers", officers.GetOfficers)
	return &harness{store: st, router: r}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, user primitive.ObjectID, role models.Role) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user.Hex())
	req.Header.Set("X-Role", string(role))
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) officer(t *testing.T, dept models.Department, rating float64, max int, userID *primitive.ObjectID) *models.Officer {
	t.Helper()
	o := &models.Officer{
		Name:         "Officer " + string(dept),
		Email:        primitive.NewObjectID().Hex() + "@city.gov",
		Department:   dept,
		Rating:       rating,
		MaxIssues:    max,
		Availability: models.Available,
		UserID:       userID,
	}
	require.NoError(t, h.store.InsertOfficer(context.Background(), o))
	return o
}

func (h *harness) issue(t *testing.T, dept models.Department) *models.Issue {
	t.Helper()
	issue := models.NewIssue("Report", "details", "Main St", models.UrgencyMedium, dept, primitive.NewObjectID(), time.Now())
	require.NoError(t, h.store.InsertIssue(context.Background(), issue))
	return issue
}

func TestCreateIssue_ClassifiesDepartment(t *testing.T) {
	h := newHarness(t)
	user := primitive.NewObjectID()

	w := h.do(t, http.MethodPost, "/api/issues", gin.H{
		"title":       "Burst water pipe",
		"description": "Water leaking everywhere from a burst pipe",
		"location":    "Elm Avenue",
		"urgency":     "high",
	}, user, models.RoleCitizen)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, string(models.WaterDepartment), body["department"])
	assert.Equal(t, string(models.Pending), body["status"])
	assert.Equal(t, "Block", body["escalationLevel"])
	assert.Equal(t, user.Hex(), body["submittedBy"])
}

func TestCreateIssue_Validation(t *testing.T) {
	h := newHarness(t)
	user := primitive.NewObjectID()

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing title", gin.H{"description": "d", "location": "l"}},
		{"bad urgency", gin.H{"title": "t", "description": "d", "location": "l", "urgency": "critical"}},
		{"bad coordinates", gin.H{"title": "t", "description": "d", "location": "l",
			"coordinates": gin.H{"latitude": 123.0, "longitude": 0.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/issues", tt.body, user, models.RoleCitizen)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestClassifyPreview(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/issues/classify", gin.H{
		"title":       "Overflowing garbage bins",
		"description": "Trash and litter all over the park",
	}, primitive.NewObjectID(), models.RoleCitizen)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.EnvironmentalService), decode(t, w)["department"])
}

func TestGetAllIssues_Pagination(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.issue(t, models.WaterDepartment)
	}
	h.issue(t, models.ElectricityDept)

	w := h.do(t, http.MethodGet, "/api/issues?department=Water%20Department&limit=2&page=2", nil, primitive.NewObjectID(), models.RoleCitizen)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 5, body["totalIssues"])
	assert.EqualValues(t, 3, body["totalPages"])
	assert.EqualValues(t, 2, body["currentPage"])
	assert.Len(t, body["issues"], 2)

	w = h.do(t, http.MethodGet, "/api/issues?assignedTo=nope", nil, primitive.NewObjectID(), models.RoleCitizen)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoteToggle(t *testing.T) {
	h := newHarness(t)
	issue := h.issue(t, models.PublicWorks)
	user := primitive.NewObjectID()
	path := "/api/issues/" + issue.ID.Hex() + "/vote"

	w := h.do(t, http.MethodPost, path, nil, user, models.RoleCitizen)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["userHasVoted"])
	assert.EqualValues(t, 1, body["votes"])

	w = h.do(t, http.MethodPost, path, nil, user, models.RoleCitizen)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["userHasVoted"])
	assert.EqualValues(t, 0, body["votes"])

	w = h.do(t, http.MethodPost, "/api/issues/"+primitive.NewObjectID().Hex()+"/vote", nil, user, models.RoleCitizen)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignIssue(t *testing.T) {
	h := newHarness(t)
	admin := primitive.NewObjectID()
	officer := h.officer(t, models.WaterDepartment, 4.5, 2, nil)
	issue := h.issue(t, models.WaterDepartment)

	w := h.do(t, http.MethodPost, "/api/issues/"+issue.ID.Hex()+"/assign", nil, admin, models.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assigned := body["issue"].(map[string]interface{})
	assert.Equal(t, officer.ID.Hex(), assigned["assignedTo"])
	assert.Equal(t, string(models.InProgress), assigned["status"])
	assert.EqualValues(t, 1, body["officer"].(map[string]interface{})["currentIssues"])

	t.Run("no officer in department", func(t *testing.T) {
		orphan := h.issue(t, models.ElectricityDept)
		w := h.do(t, http.MethodPost, "/api/issues/"+orphan.ID.Hex()+"/assign", nil, admin, models.RoleAdmin)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "NO_AVAILABLE_OFFICER", decode(t, w)["code"])

		got, err := h.store.GetIssue(context.Background(), orphan.ID)
		require.NoError(t, err)
		assert.Nil(t, got.AssignedTo)
	})

	t.Run("unknown issue", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/issues/"+primitive.NewObjectID().Hex()+"/assign", nil, admin, models.RoleAdmin)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "ISSUE_NOT_FOUND", decode(t, w)["code"])
	})

	t.Run("bad officer id", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/issues/"+issue.ID.Hex()+"/assign", gin.H{"officerId": "xyz"}, admin, models.RoleAdmin)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown department override", func(t *testing.T) {
		fresh := h.issue(t, models.WaterDepartment)
		w := h.do(t, http.MethodPost, "/api/issues/"+fresh.ID.Hex()+"/assign", gin.H{"department": "Ministry of Magic"}, admin, models.RoleAdmin)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["code"])
	})
}

func TestUpdateStatus_OfficerMustOwnIssue(t *testing.T) {
	h := newHarness(t)
	ownerUser := primitive.NewObjectID()
	strangerUser := primitive.NewObjectID()
	owner := h.officer(t, models.RoadConstruction, 4, 3, &ownerUser)
	h.officer(t, models.RoadConstruction, 3, 3, &strangerUser)
	issue := h.issue(t, models.RoadConstruction)

	w := h.do(t, http.MethodPost, "/api/issues/"+issue.ID.Hex()+"/assign",
		gin.H{"officerId": owner.ID.Hex()}, primitive.NewObjectID(), models.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	path := "/api/issues/" + issue.ID.Hex() + "/status"
	resolve := gin.H{"status": "resolved", "notes": "Patched"}

	w = h.do(t, http.MethodPatch, path, resolve, strangerUser, models.RoleOfficer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPatch, path, resolve, primitive.NewObjectID(), models.RoleOfficer)
	assert.Equal(t, http.StatusForbidden, w.Code, "a user without an officer record")

	w = h.do(t, http.MethodPatch, path, gin.H{"status": "archived"}, ownerUser, models.RoleOfficer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPatch, path, resolve, ownerUser, models.RoleOfficer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(models.Resolved), decode(t, w)["issue"].(map[string]interface{})["status"])

	freed, err := h.store.GetOfficer(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Zero(t, freed.CurrentIssues)
	assert.Equal(t, models.Available, freed.Availability)
}

func TestCreateOfficer(t *testing.T) {
	h := newHarness(t)
	admin := primitive.NewObjectID()

	w := h.do(t, http.MethodPost, "/api/officers", gin.H{
		"name": "Dana", "email": "Dana@City.gov", "password": "secret1",
		"department": string(models.WaterDepartment), "rating": 4.2, "maxIssues": 4,
	}, admin, models.RoleAdmin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "dana@city.gov", body["email"])
	assert.Equal(t, "available", body["availability"])
	assert.NotEmpty(t, body["userId"])

	user, err := h.store.GetUserByEmail(context.Background(), "dana@city.gov")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOfficer, user.Role)

	w = h.do(t, http.MethodPost, "/api/officers", gin.H{
		"name": "X", "email": "x@city.gov", "department": "Ministry of Magic", "maxIssues": 1,
	}, admin, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/officers", gin.H{
		"name": "Dana again", "email": "dana@city.gov", "password": "secret1",
		"department": string(models.WaterDepartment), "maxIssues": 1,
	}, admin, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOfficers_Ranked(t *testing.T) {
	h := newHarness(t)
	low := h.officer(t, models.WaterDepartment, 3.1, 2, nil)
	high := h.officer(t, models.WaterDepartment, 4.8, 2, nil)
	h.officer(t, models.ElectricityDept, 5, 2, nil)

	w := h.do(t, http.MethodGet, "/api/officers?department=Water%20Department&ranked=true", nil, primitive.NewObjectID(), models.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)

	var officers []models.Officer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &officers))
	require.Len(t, officers, 2)
	assert.Equal(t, high.ID, officers[0].ID)
	assert.Equal(t, low.ID, officers[1].ID)
}

func TestGetNotifications(t *testing.T) {
	user := primitive.NewObjectID()
	inbox := &fakeInbox{items: []notify.Notification{{Recipient: user.Hex(), Title: "Issue Escalated"}}}
	nc := NewNotificationController(inbox, zap.NewNop())

	r := gin.New()
	r.GET("/n", fakeAuth, nc.GetNotifications)

	req := httptest.NewRequest(http.MethodGet, "/n?limit=5", nil)
	req.Header.Set("X-User", user.Hex())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Issue Escalated")
	assert.Equal(t, user, inbox.recipient)
	assert.Equal(t, 5, inbox.limit)

	req = httptest.NewRequest(http.MethodGet, "/n", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTriggerSweep(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		status int
		want   string
	}{
		{"ran", &fakeRunner{ran: true, report: escalation.Report{Scanned: 4, Escalated: 2}}, http.StatusOK, `"escalated":2`},
		{"locked elsewhere", &fakeRunner{}, http.StatusConflict, "already running"},
		{"partial", &fakeRunner{ran: true, report: escalation.Report{Scanned: 3, Escalated: 1}, err: errors.New("issue x: timeout")}, http.StatusOK, "timeout"},
		{"failed", &fakeRunner{ran: true, err: errors.New("query failed")}, http.StatusInternalServerError, "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/sweep", NewEscalationController(tt.runner, zap.NewNop()).TriggerSweep)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sweep", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}
