package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgemedia/creator-platform/internal/models"
	"gorm.io/gorm"
)

// Resource is the class of credit being spent.
type Resource string

const (
	ResourceVideo Resource = "video"
	ResourceImage Resource = "image"
)

func (r Resource) columns() (monthly, extra string) {
	switch r {
	case ResourceVideo:
		return "monthly_credits_video", "extra_credits_video"
	default:
		return "monthly_credits_image", "extra_credits_image"
	}
}

func (r Resource) balances(u *models.User) (monthly, extra int) {
	switch r {
	case ResourceVideo:
		return u.MonthlyCreditsVideo, u.ExtraCreditsVideo
	default:
		return u.MonthlyCreditsImage, u.ExtraCreditsImage
	}
}

// Usage reports how a deduction split across the two buckets.
type Usage struct {
	MonthlyUsed int `json:"monthly_used"`
	ExtraUsed   int `json:"extra_used"`
}

// InsufficientError is returned, without any mutation, when the combined
// balance cannot cover the cost.
type InsufficientError struct {
	Required  int
	Available int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

// ErrBalanceChanged means another request spent from the same counters
// between our read and our guarded write. Callers reload the user and retry.
var ErrBalanceChanged = errors.New("credit balance changed concurrently")

// Deduct spends cost credits of the given resource, monthly bucket first,
// extra bucket for the remainder. The write is a compare-and-swap on both
// counters so two stale readers cannot both succeed past the balance; run it
// inside the same transaction as the entity insert so a later failure rolls
// the spend back.
func Deduct(ctx context.Context, db *gorm.DB, u *models.User, res Resource, cost int) (Usage, error) {
	if cost <= 0 {
		return Usage{}, fmt.Errorf("invalid deduction cost %d", cost)
	}

	monthly, extra := res.balances(u)
	if monthly+extra < cost {
		return Usage{}, &InsufficientError{Required: cost, Available: monthly + extra}
	}

	monthlyUsed := min(monthly, cost)
	extraUsed := cost - monthlyUsed

	monthlyCol, extraCol := res.columns()
	tx := db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND "+monthlyCol+" = ? AND "+extraCol+" = ?", u.ID, monthly, extra).
		Updates(map[string]any{
			monthlyCol: monthly - monthlyUsed,
			extraCol:   extra - extraUsed,
		})
	if tx.Error != nil {
		return Usage{}, tx.Error
	}
	if tx.RowsAffected == 0 {
		return Usage{}, ErrBalanceChanged
	}

	applyBalances(u, res, monthly-monthlyUsed, extra-extraUsed)
	return Usage{MonthlyUsed: monthlyUsed, ExtraUsed: extraUsed}, nil
}

func applyBalances(u *models.User, res Resource, monthly, extra int) {
	switch res {
	case ResourceVideo:
		u.MonthlyCreditsVideo = monthly
		u.ExtraCreditsVideo = extra
	default:
		u.MonthlyCreditsImage = monthly
		u.ExtraCreditsImage = extra
	}
}

// Balances returns every counter keyed the way the HTTP surface reports them.
func Balances(u *models.User) map[string]int {
	return map[string]int{
		"monthly_video": u.MonthlyCreditsVideo,
		"extra_video":   u.ExtraCreditsVideo,
		"monthly_image": u.MonthlyCreditsImage,
		"extra_image":   u.ExtraCreditsImage,
	}
}
