package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormodule/models"
	"mentormodule/pkg/idp"
	"mentormodule/pkg/session"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// setupIntegrationServer swaps the in-memory stores for Postgres.
func setupIntegrationServer(t *testing.T) *testServer {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	s := newTestServer(t)
	db, err := initDB(DatabaseConfig{DSN: os.Getenv("DB_DSN"), AutoMigrate: true}, s.app.log)
	require.NoError(t, err)
	require.NoError(t, seedRoles(db, s.app.gate))

	dir := session.NewGormDirectory(db)
	s.app.db = db
	s.app.dir = dir
	s.app.sessions = session.NewService(session.NewGormStore(db), dir, s.app.gate, s.app.log)
	s.router = newRouter(s.app)
	return s
}

func uniqueUser(role string) string {
	return fmt.Sprintf("it-%s-%s", role, uuid.NewString()[:8])
}

func TestFullFlow(t *testing.T) {
	s := setupIntegrationServer(t)
	db := s.app.db

	facultyID := uniqueUser("faculty")
	faculty := s.signIn(t, testUser(facultyID, "faculty"))
	hod := s.signIn(t, testUser(uniqueUser("hod"), "hod"))
	root := s.signIn(t, testUser(uniqueUser("root"), "super_admin"))

	// 1. first faculty login created the mentor record
	var mentor models.Mentor
	require.NoError(t, db.Joins("User").Where(`"User".external_id = ?`, facultyID).First(&mentor).Error)
	mentorPath := fmt.Sprintf("/api/mentors/%d", mentor.ID)

	resp := s.do(http.MethodGet, "/api/mentors", nil, withToken(hod))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = s.do(http.MethodGet, "/api/mentors", nil, withToken(faculty))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// 2. assign a student once
	resp = s.do(http.MethodPost, mentorPath+"/assign", map[string]string{"student_id": "s1"}, withToken(hod))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	resp = s.do(http.MethodPost, mentorPath+"/assign", map[string]string{"student_id": "s1"}, withToken(hod))
	assert.Equal(t, http.StatusConflict, resp.Code)
	resp = s.do(http.MethodPost, mentorPath+"/assign", map[string]string{"student_id": "ghost"}, withToken(hod))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(http.MethodGet, mentorPath, nil, withToken(hod))
	require.Equal(t, http.StatusOK, resp.Code)
	var detail struct {
		Mentor     models.Mentor `json:"mentor"`
		StudentIDs []string      `json:"student_ids"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &detail))
	assert.Equal(t, []string{"s1"}, detail.StudentIDs)
	assert.Equal(t, 1, detail.Mentor.TotalStudents)

	// 3. counseling and feedback
	when := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	resp = s.do(http.MethodPost, "/api/counseling-sessions", map[string]any{
		"student_id": "s1", "scheduled_at": when, "topic": "semester plan",
	}, withToken(faculty))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var cs models.CounselingSession
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cs))
	assert.Equal(t, mentor.ID, cs.MentorID)

	resp = s.do(http.MethodPost, "/api/counseling-sessions", map[string]any{
		"student_id": "s1", "scheduled_at": when, "topic": "no mentor",
	}, withToken(hod))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	feedbackPath := fmt.Sprintf("/api/counseling-sessions/%d/feedback", cs.ID)
	resp = s.do(http.MethodPost, feedbackPath, map[string]any{"rating": 9}, withToken(faculty))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = s.do(http.MethodPost, feedbackPath, map[string]any{"rating": 4, "comments": "useful"}, withToken(faculty))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	resp = s.do(http.MethodPost, feedbackPath, map[string]any{"rating": 5}, withToken(faculty))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = s.do(http.MethodGet, "/api/counseling-sessions", nil, withToken(faculty))
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)

	// 4. seeded roles
	resp = s.do(http.MethodGet, "/api/roles", nil, withToken(root))
	require.Equal(t, http.StatusOK, resp.Code)
	var roles []models.Role
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &roles))
	byName := map[string]models.Role{}
	for _, r := range roles {
		byName[r.Name] = r
	}
	assert.True(t, byName["faculty"].Allowed)
	assert.Equal(t, "/dashboard/faculty", byName["faculty"].DefaultRoute)
	assert.False(t, byName["student"].Allowed)

	// 5. avatar upload (multipart)
	var img bytes.Buffer
	src := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		src.Set(x, 150, color.RGBA{R: 200, A: 255})
	}
	require.NoError(t, png.Encode(&img, src))
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "me.png")
	_, _ = fw.Write(img.Bytes())
	_ = mw.Close()
	resp = performRequest(s.router, http.MethodPost, "/api/profile/avatar", &body, faculty, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var up struct {
		AvatarURL string `json:"avatar_url"`
		Width     int    `json:"width"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &up))
	assert.Equal(t, 256, up.Width)
	_, err := os.Stat(filepath.Join(s.app.cfg.Upload.BaseDir, "avatars", mentor.UserID.String()+".png"))
	assert.NoError(t, err)
	resp = s.do(http.MethodGet, up.AvatarURL, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	// 6. logout
	resp = s.do(http.MethodPost, "/auth/logout", nil, withToken(faculty))
	require.Equal(t, http.StatusOK, resp.Code)
	resp = s.do(http.MethodGet, "/auth/me", nil, withToken(faculty))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHODOnlyReachesOwnDepartmentMentors(t *testing.T) {
	s := setupIntegrationServer(t)
	deptA, deptB := "d-"+uuid.NewString()[:8], "d-"+uuid.NewString()[:8]

	inA := departmentUser("faculty", deptA)
	inB := departmentUser("faculty", deptB)
	s.signIn(t, inA)
	s.signIn(t, inB)
	hod := s.signIn(t, departmentUser("hod", deptA))

	own := fmt.Sprintf("/api/mentors/%d", mentorOf(t, s, inA.ID).ID)
	other := fmt.Sprintf("/api/mentors/%d", mentorOf(t, s, inB.ID).ID)

	resp := s.do(http.MethodGet, own, nil, withToken(hod))
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = s.do(http.MethodGet, other, nil, withToken(hod))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = s.do(http.MethodPatch, other, map[string]any{"is_active": false}, withToken(hod))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = s.do(http.MethodPost, other+"/assign", map[string]string{"student_id": "s1"}, withToken(hod))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	m := mentorOf(t, s, inB.ID)
	assert.True(t, m.IsActive, "out-of-department mentor must stay untouched")
	assert.Zero(t, m.TotalStudents)

	resp = s.do(http.MethodGet, "/api/mentors", nil, withToken(hod))
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Data []models.Mentor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	for _, lm := range list.Data {
		require.NotNil(t, lm.DepartmentID)
		assert.Equal(t, deptA, *lm.DepartmentID)
	}
}

func TestCounselingStatusTransitions(t *testing.T) {
	s := setupIntegrationServer(t)
	owner := s.signIn(t, testUser(uniqueUser("faculty"), "faculty"))
	stranger := s.signIn(t, testUser(uniqueUser("faculty"), "faculty"))

	schedule := func(topic string) models.CounselingSession {
		t.Helper()
		resp := s.do(http.MethodPost, "/api/counseling-sessions", map[string]any{
			"student_id":   "s1",
			"scheduled_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
			"topic":        topic,
		}, withToken(owner))
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		var cs models.CounselingSession
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cs))
		require.Equal(t, models.CounselingScheduled, cs.Status)
		return cs
	}
	done, dropped := schedule("attendance"), schedule("internship")
	donePath := fmt.Sprintf("/api/counseling-sessions/%d", done.ID)
	droppedPath := fmt.Sprintf("/api/counseling-sessions/%d", dropped.ID)

	// another mentor cannot see, close or review the session
	resp := s.do(http.MethodPatch, donePath, map[string]any{"status": "cancelled"}, withToken(stranger))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = s.do(http.MethodPost, donePath+"/feedback", map[string]any{"rating": 1}, withToken(stranger))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(http.MethodPatch, donePath, map[string]any{"status": "completed", "notes": "met in lab"}, withToken(owner))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var updated models.CounselingSession
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &updated))
	assert.Equal(t, models.CounselingCompleted, updated.Status)
	assert.Equal(t, "met in lab", updated.Notes)

	resp = s.do(http.MethodPatch, donePath, map[string]any{"status": "cancelled"}, withToken(owner))
	assert.Equal(t, http.StatusConflict, resp.Code)
	resp = s.do(http.MethodPost, donePath+"/feedback", map[string]any{"rating": 5}, withToken(owner))
	assert.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = s.do(http.MethodPatch, droppedPath, map[string]any{"status": "cancelled"}, withToken(owner))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = s.do(http.MethodPost, droppedPath+"/feedback", map[string]any{"rating": 3}, withToken(owner))
	assert.Equal(t, http.StatusConflict, resp.Code)

	var stored models.CounselingSession
	require.NoError(t, s.app.db.First(&stored, dropped.ID).Error)
	assert.Equal(t, models.CounselingCancelled, stored.Status)
}

func departmentUser(role, dept string) *idp.User {
	u := testUser(uniqueUser(role), role)
	u.DepartmentID = &dept
	return u
}

func mentorOf(t *testing.T, s *testServer, externalID string) models.Mentor {
	t.Helper()
	var m models.Mentor
	require.NoError(t, s.app.db.Joins("User").Where(`"User".external_id = ?`, externalID).First(&m).Error)
	return m
}

func TestPurgeRemovesExpiredSessions(t *testing.T) {
	s := setupIntegrationServer(t)
	s.signIn(t, testUser(uniqueUser("hod"), "hod"))

	expired := &models.Session{
		UserID:          mustUserID(t, s, "hod"),
		AccessTokenHash: session.HashToken(uuid.NewString()),
		ExpiresAt:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.app.db.Create(expired).Error)

	resp := s.do(http.MethodPost, "/internal/sessions/purge", nil, withHeader("X-Admin-Key", testAdminKey))
	require.Equal(t, http.StatusOK, resp.Code)
	var out struct {
		Purged int64 `json:"purged"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.GreaterOrEqual(t, out.Purged, int64(1))

	var n int64
	s.app.db.Model(&models.Session{}).Where("id = ?", expired.ID).Count(&n)
	assert.Zero(t, n)
}

func mustUserID(t *testing.T, s *testServer, role string) uuid.UUID {
	t.Helper()
	var u models.User
	require.NoError(t, s.app.db.Where("role = ?", role).Order("created_at desc").First(&u).Error)
	return u.ID
}
