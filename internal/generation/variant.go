package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/forgemedia/creator-platform/internal/credits"
	"github.com/forgemedia/creator-platform/internal/plan"
)

// ValidationError marks malformed launch parameters; handlers map it to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ParamSpec is what a variant derives from validated launch parameters.
type ParamSpec struct {
	Cost             int
	ExpectedDuration time.Duration
	ScheduledAt      *time.Time
}

// Variant parameterizes the shared generation service: table, queue task
// name, feature gate, credit resource, whether results need human review,
// whether work is handed to the external engine, and parameter handling.
// The three instances below replace what would otherwise be three
// copy-pasted services.
type Variant struct {
	Name        string
	Table       string
	TaskName    string
	Feature     string
	Resource    credits.Resource
	Review      bool
	AllowCancel bool
	Remote      bool

	// Params validates the raw launch payload and derives cost and the
	// expected-duration constant the reconciler uses for progress estimates.
	Params func(raw []byte) (ParamSpec, error)
}

// CampaignParams drives the single-campaign variant: one batch of content
// pieces generated locally by the worker.
type CampaignParams struct {
	Name           string     `json:"name"`
	InfluencerName string     `json:"influencer_name"`
	ToneOfVoice    string     `json:"tone_of_voice"`
	Platforms      []string   `json:"platforms"`
	ContentCount   int        `json:"content_count"`
	Topic          string     `json:"topic"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
}

const campaignSecondsPerPiece = 15

// Campaigns is the single-campaign variant. Costs one video credit per
// requested piece.
func Campaigns() Variant {
	return Variant{
		Name:        "campaign",
		Table:       "content_campaigns",
		TaskName:    "generate_campaign_content",
		Feature:     plan.FeatureContentCampaigns,
		Resource:    credits.ResourceVideo,
		AllowCancel: true,
		Params: func(raw []byte) (ParamSpec, error) {
			var p CampaignParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return ParamSpec{}, invalidf("invalid campaign parameters: %v", err)
			}
			if strings.TrimSpace(p.Name) == "" {
				return ParamSpec{}, invalidf("campaign name is required")
			}
			if strings.TrimSpace(p.InfluencerName) == "" {
				return ParamSpec{}, invalidf("influencer name is required")
			}
			if len(p.Platforms) == 0 {
				return ParamSpec{}, invalidf("at least one platform is required")
			}
			if p.ContentCount < 1 || p.ContentCount > 100 {
				return ParamSpec{}, invalidf("content_count must be between 1 and 100")
			}
			if strings.TrimSpace(p.Topic) == "" {
				return ParamSpec{}, invalidf("topic is required")
			}
			return ParamSpec{
				Cost:             p.ContentCount,
				ExpectedDuration: time.Duration(p.ContentCount) * campaignSecondsPerPiece * time.Second,
				ScheduledAt:      p.ScheduledAt,
			}, nil
		},
	}
}

// PlanParams drives the monthly-plan variant: a month of content (4 posts +
// 1 reel) generated by the external workflow engine.
type PlanParams struct {
	Month           string         `json:"month"`
	ToneOfVoice     string         `json:"tone_of_voice"`
	Themes          []string       `json:"themes"`
	TargetPlatforms []string       `json:"target_platforms"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
}

const (
	planPieceCount       = 5 // 4 posts + 1 reel
	planExpectedDuration = planPieceCount * campaignSecondsPerPiece * time.Second
)

var monthFormat = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// MonthlyPlans is the remote-handoff variant; completed content comes back
// through the callback gateway and waits for human approval (REVIEW_READY).
func MonthlyPlans() Variant {
	return Variant{
		Name:     "plan",
		Table:    "monthly_content_plans",
		TaskName: "schedule_monthly_content",
		Feature:  plan.FeatureAccessMarketing,
		Resource: credits.ResourceImage,
		Review:   true,
		Remote:   true,
		Params: func(raw []byte) (ParamSpec, error) {
			var p PlanParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return ParamSpec{}, invalidf("invalid plan parameters: %v", err)
			}
			if !monthFormat.MatchString(p.Month) {
				return ParamSpec{}, invalidf("month must be formatted YYYY-MM")
			}
			if strings.TrimSpace(p.ToneOfVoice) == "" {
				return ParamSpec{}, invalidf("tone_of_voice is required")
			}
			if len(p.Themes) == 0 {
				return ParamSpec{}, invalidf("at least one theme is required")
			}
			if len(p.TargetPlatforms) == 0 {
				return ParamSpec{}, invalidf("at least one target platform is required")
			}
			return ParamSpec{
				Cost:             planPieceCount,
				ExpectedDuration: planExpectedDuration,
				ScheduledAt:      p.ScheduledAt,
			}, nil
		},
	}
}

// ResearchParams drives the market-research variant.
type ResearchParams struct {
	SearchTopic string         `json:"search_topic"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

const researchExpectedDuration = 30 * time.Second

// ResearchQueries is the market-research variant: one locally-executed
// search-and-analyze pass per query.
func ResearchQueries() Variant {
	return Variant{
		Name:        "research",
		Table:       "research_queries",
		TaskName:    "run_market_research",
		Feature:     plan.FeatureAccessResearch,
		Resource:    credits.ResourceImage,
		AllowCancel: true,
		Params: func(raw []byte) (ParamSpec, error) {
			var p ResearchParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return ParamSpec{}, invalidf("invalid research parameters: %v", err)
			}
			topic := strings.TrimSpace(p.SearchTopic)
			if topic == "" {
				return ParamSpec{}, invalidf("search_topic is required")
			}
			if len(topic) > 500 {
				return ParamSpec{}, invalidf("search_topic must be at most 500 characters")
			}
			return ParamSpec{
				Cost:             1,
				ExpectedDuration: researchExpectedDuration,
			}, nil
		},
	}
}
