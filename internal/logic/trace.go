package logic

import "github.com/aminefth/kidsclub-sub001/internal/models"

// Selection stages recorded by the serving path.
const (
	StageServable = "servable"
	StageTargeted = "targeted"
	StageFunded   = "funded"
	StageRanked   = "ranked"
)

// TraceStep records the campaigns still in play after a selection stage.
type TraceStep struct {
	Stage       string            `json:"stage"`
	CampaignIDs []string          `json:"campaign_ids"`
	Details     map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed while serving.
// A nil trace ignores every call.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage using the supplied campaigns.
func (t *SelectionTrace) AddStep(stage string, campaigns []models.Campaign) {
	t.AddStepWithDetails(stage, campaigns, nil)
}

// AddStepWithDetails appends a trace entry with additional details about filtering.
func (t *SelectionTrace) AddStepWithDetails(stage string, campaigns []models.Campaign, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, CampaignIDs: make([]string, 0, len(campaigns)), Details: details}
	for _, c := range campaigns {
		step.CampaignIDs = append(step.CampaignIDs, c.ID)
	}
	t.Steps = append(t.Steps, step)
}

// AddRanked records the final ordering.
func (t *SelectionTrace) AddRanked(ranked []models.AdProjection) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: StageRanked, CampaignIDs: make([]string, 0, len(ranked))}
	for _, p := range ranked {
		step.CampaignIDs = append(step.CampaignIDs, p.ID)
	}
	t.Steps = append(t.Steps, step)
}

// Funded returns the campaigns with budget left.
func Funded(campaigns []models.Campaign) []models.Campaign {
	out := make([]models.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if Remaining(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}
