package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aminefth/kidsclub-sub001/internal/logic"
	"github.com/aminefth/kidsclub-sub001/internal/models"
)

type feedResponse struct {
	Success bool                   `json:"success"`
	Posts   []models.SponsoredPost `json:"posts"`
	Trace   *logic.SelectionTrace  `json:"trace"`
}

func TestSponsoredHandler_TargetsCountry(t *testing.T) {
	env := newTestEnv(t)
	fr := env.create(t, campaignPayload("France only", 100, 5, "FR"))
	everywhere := env.create(t, campaignPayload("Everywhere", 100, 1, "ALL"))

	rec := env.do(t, http.MethodGet, "/ads/sponsored?placement=sidebar&country=MA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp feedResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, everywhere.ID, resp.Posts[0].ID)
	assert.Equal(t, "Everywhere headline", resp.Posts[0].Title)
	assert.Nil(t, resp.Trace)

	rec = env.do(t, http.MethodGet, "/ads/sponsored?placement=sidebar&country=FR", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = feedResponse{}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Posts, 2)
	assert.Equal(t, fr.ID, resp.Posts[0].ID, "higher bid ranks first")
}

func TestSponsoredHandler_DebugTrace(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, campaignPayload("Traced", 100, 1))

	rec := env.do(t, http.MethodGet, "/ads/sponsored?placement=sidebar&debug=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp feedResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Trace)
	require.Len(t, resp.Trace.Steps, 4)
	assert.Equal(t, logic.StageServable, resp.Trace.Steps[0].Stage)
	assert.Equal(t, logic.StageRanked, resp.Trace.Steps[3].Stage)
}

func TestSponsoredHandler_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/ads/sponsored", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "placement is required")

	rec = env.do(t, http.MethodGet, "/ads/sponsored?placement=sidebar&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptimalHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ads/optimal?placement=sidebar&country=MA&userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"ad":null}`, rec.Body.String())

	c := env.create(t, campaignPayload("Best", 100, 3))
	rec = env.do(t, http.MethodGet, "/ads/optimal?placement=sidebar&country=MA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool                 `json:"success"`
		Ad      *models.AdProjection `json:"ad"`
	}
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Ad)
	assert.Equal(t, c.ID, resp.Ad.ID)
}
