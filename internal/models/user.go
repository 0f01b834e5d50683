package models

import (
	"time"

	"gorm.io/datatypes"
)

// Tier is the ordered subscription level. Starter < Growth < Studio.
type Tier string

const (
	TierStarter Tier = "starter"
	TierGrowth  Tier = "growth"
	TierStudio  Tier = "studio"
)

// TiersAscending lists every tier from lowest to highest. Feature gating
// scans it to find the cheapest tier that grants a feature.
var TiersAscending = []Tier{TierStarter, TierGrowth, TierStudio}

func (t Tier) Rank() int {
	for i, tier := range TiersAscending {
		if tier == t {
			return i
		}
	}
	return -1
}

func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`

	Tier               Tier               `gorm:"type:varchar(16);index;not null;default:starter" json:"tier"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(16);not null;default:active" json:"subscription_status"`

	// Two-bucket credit ledger, one pair per resource class. Monthly credits
	// expire at renewal and are always spent before extra (purchased) ones.
	MonthlyCreditsVideo int `gorm:"not null;default:0" json:"monthly_credits_video"`
	ExtraCreditsVideo   int `gorm:"not null;default:0" json:"extra_credits_video"`
	MonthlyCreditsImage int `gorm:"not null;default:0" json:"monthly_credits_image"`
	ExtraCreditsImage   int `gorm:"not null;default:0" json:"extra_credits_image"`

	// Sparse per-user patch merged over the tier's base feature matrix,
	// override wins key-by-key.
	FeatureOverrides datatypes.JSONMap `gorm:"type:json" json:"-"`

	IsActive  bool      `gorm:"not null;default:true" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
