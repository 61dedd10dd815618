package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/franzego/coachengine/internal/config"
	"github.com/franzego/coachengine/internal/messagestore"
	"github.com/franzego/coachengine/internal/models"
	"github.com/franzego/coachengine/internal/router"
	"github.com/franzego/coachengine/internal/topicstate"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *CoachHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})

	cfg := config.EngineConfig{
		QuietStartHour:     22,
		QuietEndHour:       8,
		DailyPushCap:       1,
		BatchNonUrgentCap:  1,
		DefaultCooldownHrs: 6,
		TopicCooldownHours: map[string]int{"nutrition": 3, "sleep": 8},
	}
	logger := zap.NewNop().Sugar()
	topics := topicstate.NewStore(rdb, cfg.TopicCooldownHours, cfg.DefaultCooldownHrs)
	messages := messagestore.NewStore(rdb)
	counters := router.NewCounters(rdb)
	rt := router.New(topics, messages, counters, nil, logger, cfg)

	handler := NewCoachHandler(rt, messages, topics, logger)

	r := gin.New()
	// Stand-in for the auth middleware.
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user123")
		c.Next()
	})
	api := r.Group("/api/v1")
	{
		api.POST("/coach/candidates", handler.SubmitCandidate)
		api.POST("/coach/candidates/batch", handler.SubmitBatch)
		api.GET("/coach/inbox", handler.GetInbox)
		api.POST("/coach/inbox/:id/dismiss", handler.Dismiss)
		api.POST("/coach/app-open", handler.AppOpen)
	}
	return r, handler
}

func performJSON(t *testing.T, r *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSubmitCandidate_Accepted(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/candidates", models.CandidateMessage{
		Priority: models.PriorityP1,
		Category: models.CategoryNutrition,
		Title:    "Lunch idea",
		Body:     "Plenty of protein options nearby",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Candidate accepted", resp.Message)
}

func TestSubmitCandidate_AIRejectionIsNotAnHTTPError(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/candidates", models.CandidateMessage{
		Priority: models.PriorityP1,
		Category: models.CategoryStress,
		Title:    "Breathe",
		Body:     "Take five",
		IsAI:     true, // no because line
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Candidate rejected", resp.Message)
}

func TestSubmitCandidate_InvalidBody(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/candidates", map[string]string{"priority": "P1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid Request Body", resp.Message)
}

func TestSubmitBatch(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/candidates/batch", models.BatchRequest{
		Candidates: []models.CandidateMessage{
			{Priority: models.PriorityP1, Category: models.CategoryNutrition, Title: "Lunch", Body: "b"},
			{Priority: models.PriorityP2, Category: models.CategorySleep, Title: "Nap", Body: "b"},
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var batch models.BatchResponse
	require.NoError(t, json.Unmarshal(raw, &batch))
	assert.Equal(t, 2, batch.Submitted)
	assert.Equal(t, 2, batch.Accepted)
	assert.Len(t, batch.AcceptedIDs, 2)
}

func TestInboxAndDismissFlow(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/candidates", models.CandidateMessage{
		Priority: models.PriorityP1,
		Category: models.CategoryNutrition,
		Title:    "Lunch idea",
		Body:     "Plenty of protein options nearby",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performJSON(t, r, "GET", "/api/v1/coach/inbox", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var inbox []models.RoutedMessage
	require.NoError(t, json.Unmarshal(raw, &inbox))
	require.Len(t, inbox, 1)

	w = performJSON(t, r, "POST", "/api/v1/coach/inbox/"+inbox[0].ID+"/dismiss", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Dismissed messages disappear from the inbox.
	w = performJSON(t, r, "GET", "/api/v1/coach/inbox", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeResponse(t, w)
	raw, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	inbox = nil
	require.NoError(t, json.Unmarshal(raw, &inbox))
	assert.Empty(t, inbox)
}

func TestDismiss_UnknownMessage(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/inbox/no-such-id/dismiss", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDismissFeedsTopicDamping(t *testing.T) {
	r, handler := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/candidates", models.CandidateMessage{
		Priority: models.PriorityP2,
		Category: models.CategorySleep,
		Title:    "Sleep tip",
		Body:     "b",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performJSON(t, r, "GET", "/api/v1/coach/inbox", nil)
	resp := decodeResponse(t, w)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var inbox []models.RoutedMessage
	require.NoError(t, json.Unmarshal(raw, &inbox))
	require.Len(t, inbox, 1)

	w = performJSON(t, r, "POST", "/api/v1/coach/inbox/"+inbox[0].ID+"/dismiss", nil)
	require.Equal(t, http.StatusOK, w.Code)

	count, err := handler.topics.DismissCount(context.Background(), "user123", "sleep")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAppOpen(t *testing.T) {
	r, handler := setupTestRouter(t)

	w := performJSON(t, r, "POST", "/api/v1/coach/app-open", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	opens, err := handler.topics.PreferredHours(context.Background(), "user123")
	require.NoError(t, err)
	assert.Len(t, opens, 1)
	assert.WithinDuration(t, time.Now(), opens[0], time.Minute)
}
