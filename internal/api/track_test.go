package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aminefth/kidsclub-sub001/internal/models"
)

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func trackBody(campaignID string) map[string]any {
	return map[string]any{
		"type":       "sponsored",
		"campaignId": campaignID,
		"placement":  "sidebar",
		"page":       map[string]any{"url": "https://kids.example.com/science", "title": "Science", "category": "education"},
		"country":    "MA",
	}
}

func TestTrack_ImpressionAndClick(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, campaignPayload("Tracked", 100, 2))

	rec := env.do(t, http.MethodPost, "/ads/track/impression", trackBody(c.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp messageResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)

	rec = env.do(t, http.MethodPost, "/ads/track/click", trackBody(c.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := env.campaigns.GetCampaign(t.Context(), c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Performance.Impressions)
	assert.EqualValues(t, 1, stored.Performance.Clicks)
	assert.InDelta(t, 2.0, stored.Performance.Spend, 1e-9)

	events, err := env.events.QueryEvents(t.Context(), models.EventFilter{CampaignID: c.ID})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTrack_UserAgentFallsBackToHeader(t *testing.T) {
	env := newTestEnv(t)
	body := trackBody("")
	body["type"] = "adsense"

	rec := env.do(t, http.MethodPost, "/ads/track/impression", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	events, err := env.events.QueryEvents(t.Context(), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "adsense", events[0].Type)
	assert.Equal(t, "MA", events[0].Country)
}

func TestTrack_BudgetExhausted(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, campaignPayload("Tiny budget", 10, 10))

	rec := env.do(t, http.MethodPost, "/ads/track/click", trackBody(c.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messageResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "click recorded", resp.Message)

	rec = env.do(t, http.MethodPost, "/ads/track/click", trackBody(c.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = messageResponse{}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, msgBudgetExhausted, resp.Message)

	stored, err := env.campaigns.GetCampaign(t.Context(), c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Performance.Clicks)
	assert.EqualValues(t, 1, stored.Performance.RejectedClicks)
	assert.InDelta(t, 10.0, stored.Performance.Spend, 1e-9)
}

func TestTrack_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ads/track/click", trackBody("missing"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := trackBody("")
	delete(body, "type")
	rec = env.do(t, http.MethodPost, "/ads/track/impression", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = trackBody("")
	body["revenue"] = -1
	rec = env.do(t, http.MethodPost, "/ads/track/impression", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
