package plan

import (
	"fmt"

	"github.com/forgemedia/creator-platform/internal/models"
)

// Feature keys recognised by the gate. Numeric entries are limits, boolean
// entries are capabilities; both can be patched per user.
const (
	FeatureAccessResearch      = "access_research"
	FeatureAccessMarketing     = "access_marketing"
	FeatureContentCampaigns    = "content_campaigns"
	FeatureAIContentGeneration = "ai_content_generation"
	FeatureMaxChats            = "max_chats"
)

// Features is the compile-time checked flag/limit set a tier grants.
type Features struct {
	AccessResearch      bool
	AccessMarketing     bool
	ContentCampaigns    bool
	AIContentGeneration bool
	MaxChats            int

	// Credit allotment granted on signup and at each monthly renewal.
	MonthlyVideoCredits int
	MonthlyImageCredits int
}

var matrix = map[models.Tier]Features{
	models.TierStarter: {
		MaxChats:            1000,
		MonthlyVideoCredits: 0,
		MonthlyImageCredits: 10,
	},
	models.TierGrowth: {
		AccessResearch:      true,
		AccessMarketing:     true,
		AIContentGeneration: true,
		MaxChats:            10000,
		MonthlyVideoCredits: 10,
		MonthlyImageCredits: 50,
	},
	models.TierStudio: {
		AccessResearch:      true,
		AccessMarketing:     true,
		ContentCampaigns:    true,
		AIContentGeneration: true,
		MaxChats:            100000,
		MonthlyVideoCredits: 50,
		MonthlyImageCredits: 200,
	},
}

// Base returns the unmodified feature set for a tier.
func Base(t models.Tier) Features {
	return matrix[t]
}

func (f Features) toMap() map[string]any {
	return map[string]any{
		FeatureAccessResearch:      f.AccessResearch,
		FeatureAccessMarketing:     f.AccessMarketing,
		FeatureContentCampaigns:    f.ContentCampaigns,
		FeatureAIContentGeneration: f.AIContentGeneration,
		FeatureMaxChats:            f.MaxChats,
	}
}

// Effective merges the tier's base matrix with the user's override patch.
// Overrides replace matching keys; unknown override keys are carried through
// so operators can flag experimental features per user.
func Effective(u *models.User) map[string]any {
	merged := Base(u.Tier).toMap()
	for k, v := range u.FeatureOverrides {
		merged[k] = v
	}
	return merged
}

// ForbiddenError names the missing feature and the cheapest tier whose base
// matrix grants it.
type ForbiddenError struct {
	Feature      string
	RequiredTier models.Tier
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("feature %q requires the %s plan or higher", e.Feature, e.RequiredTier)
}

// MinTierError reports a plain tier-ordering gate failure.
type MinTierError struct {
	RequiredTier models.Tier
}

func (e *MinTierError) Error() string {
	return fmt.Sprintf("requires the %s plan or higher", e.RequiredTier)
}

// truthy treats booleans and positive numbers as granted. Override values
// arrive via JSON, so numbers show up as float64.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x > 0
	case int64:
		return x > 0
	case float64:
		return x > 0
	default:
		return false
	}
}

// RequiredTierFor scans tiers in ascending order and returns the first tier
// whose base matrix grants the feature. Returns the highest tier when none
// does, so the error still points somewhere actionable.
func RequiredTierFor(feature string) models.Tier {
	for _, t := range models.TiersAscending {
		if truthy(Base(t).toMap()[feature]) {
			return t
		}
	}
	return models.TiersAscending[len(models.TiersAscending)-1]
}

// RequireFeature fails unless the user's merged feature map has the key
// truthy. Pure read, runs before any credit deduction or entity creation.
func RequireFeature(u *models.User, feature string) error {
	if truthy(Effective(u)[feature]) {
		return nil
	}
	return &ForbiddenError{Feature: feature, RequiredTier: RequiredTierFor(feature)}
}

// RequireMinTier fails when the user's tier is ordered below the given tier.
func RequireMinTier(u *models.User, t models.Tier) error {
	if u.Tier.AtLeast(t) {
		return nil
	}
	return &MinTierError{RequiredTier: t}
}
