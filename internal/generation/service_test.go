package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgemedia/creator-platform/internal/credits"
	"github.com/forgemedia/creator-platform/internal/models"
	"github.com/forgemedia/creator-platform/internal/plan"
	"github.com/forgemedia/creator-platform/internal/store/redisstore"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type published struct {
	Task     string
	EntityID string
	JobID    string
}

type fakeQueue struct {
	sent []published
	err  error
}

func (q *fakeQueue) PublishTask(ctx context.Context, task, entityID, jobID string) error {
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, published{Task: task, EntityID: entityID, JobID: jobID})
	return nil
}

type fakeJobs struct {
	records map[string]*redisstore.JobRecord
	getErr  error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{records: make(map[string]*redisstore.JobRecord)}
}

func (f *fakeJobs) SetQueued(ctx context.Context, jobID string) error {
	f.records[jobID] = &redisstore.JobRecord{State: redisstore.StateQueued}
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, jobID string) (*redisstore.JobRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[jobID]
	if !ok {
		return nil, redisstore.ErrNotFound
	}
	return rec, nil
}

var testSeq atomic.Int64

func openTestDB(t *testing.T, variants ...Variant) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:generation_%d?mode=memory&cache=shared", testSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("automigrate users: %v", err)
	}
	for _, v := range variants {
		if err := db.Table(v.Table).AutoMigrate(&Entity{}); err != nil {
			t.Fatalf("automigrate %s: %v", v.Table, err)
		}
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, tier models.Tier, monthlyVideo, extraVideo, monthlyImage, extraImage int) *models.User {
	t.Helper()
	n := testSeq.Add(1)
	u := &models.User{
		Email:               fmt.Sprintf("u%d@example.com", n),
		Username:            fmt.Sprintf("user%d", n),
		PasswordHash:        "x",
		Tier:                tier,
		SubscriptionStatus:  models.SubscriptionActive,
		MonthlyCreditsVideo: monthlyVideo,
		ExtraCreditsVideo:   extraVideo,
		MonthlyCreditsImage: monthlyImage,
		ExtraCreditsImage:   extraImage,
		IsActive:            true,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func campaignPayload(count int) []byte {
	raw, _ := json.Marshal(CampaignParams{
		Name:           "spring push",
		InfluencerName: "ada",
		ToneOfVoice:    "upbeat",
		Platforms:      []string{"tiktok", "instagram"},
		ContentCount:   count,
		Topic:          "product tour",
	})
	return raw
}

func planPayload() []byte {
	raw, _ := json.Marshal(PlanParams{
		Month:           "2026-09",
		ToneOfVoice:     "professional",
		Themes:          []string{"launch week"},
		TargetPlatforms: []string{"instagram"},
	})
	return raw
}

func TestLaunch_HappyPath(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	queue := &fakeQueue{}
	jobs := newFakeJobs()
	svc := NewService(db, v, queue, jobs, quietLogger())
	u := seedUser(t, db, models.TierStudio, 3, 2, 0, 0)

	before := time.Now()
	entity, estimated, err := svc.Launch(context.Background(), u, campaignPayload(4))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	if entity.Status != StatusInProgress {
		t.Fatalf("status = %s, want in_progress after dispatch", entity.Status)
	}
	if entity.JobID == nil {
		t.Fatalf("job handle not recorded")
	}
	if len(queue.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(queue.sent))
	}
	if queue.sent[0].Task != "generate_campaign_content" || queue.sent[0].EntityID != entity.ID {
		t.Fatalf("published %+v", queue.sent[0])
	}
	if _, ok := jobs.records[*entity.JobID]; !ok {
		t.Fatalf("live queued record not seeded")
	}

	// 4 video credits: monthly bucket drains first.
	if u.MonthlyCreditsVideo != 0 || u.ExtraCreditsVideo != 1 {
		t.Fatalf("balances = %d/%d, want 0/1", u.MonthlyCreditsVideo, u.ExtraCreditsVideo)
	}

	wantETA := before.Add(4 * 15 * time.Second)
	if estimated.Before(wantETA.Add(-time.Second)) || estimated.After(wantETA.Add(5*time.Second)) {
		t.Fatalf("estimated completion %v not near %v", estimated, wantETA)
	}

	stored, err := svc.Get(context.Background(), u.ID, entity.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusInProgress || stored.StartedAt == nil {
		t.Fatalf("stored entity %+v", stored)
	}
}

func TestLaunch_FeatureGate(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 10, 10, 0, 0)

	_, _, err := svc.Launch(context.Background(), u, campaignPayload(1))
	var ferr *plan.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
	if ferr.Feature != plan.FeatureContentCampaigns || ferr.RequiredTier != models.TierStudio {
		t.Fatalf("error detail %+v", ferr)
	}
	if u.MonthlyCreditsVideo != 10 {
		t.Fatalf("gate failure must not touch credits")
	}
}

func TestLaunch_InsufficientCredits(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	queue := &fakeQueue{}
	svc := NewService(db, v, queue, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierStudio, 0, 1, 0, 0)

	_, _, err := svc.Launch(context.Background(), u, campaignPayload(6))
	var ierr *credits.InsufficientError
	if !errors.As(err, &ierr) {
		t.Fatalf("want InsufficientError, got %v", err)
	}
	if ierr.Required != 6 || ierr.Available != 1 {
		t.Fatalf("error detail %+v", ierr)
	}
	if len(queue.sent) != 0 {
		t.Fatalf("nothing may be enqueued on a failed launch")
	}

	var count int64
	if err := db.Table(v.Table).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("no entity may be persisted on a failed launch, found %d", count)
	}
}

func TestLaunch_InvalidParams(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierStudio, 10, 0, 0, 0)

	_, _, err := svc.Launch(context.Background(), u, []byte(`{"name":"x"}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if u.MonthlyCreditsVideo != 10 {
		t.Fatalf("validation failure must not touch credits")
	}
}

func TestMonthlyPlanParams_RequireTone(t *testing.T) {
	v := MonthlyPlans()
	for _, tone := range []string{"", "   "} {
		raw, _ := json.Marshal(PlanParams{Month: "2026-09", ToneOfVoice: tone})
		_, err := v.Params(raw)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("tone %q: want ValidationError, got %v", tone, err)
		}
		if !strings.Contains(verr.Error(), "tone_of_voice") {
			t.Fatalf("tone %q: message %q should name the field", tone, verr.Error())
		}
	}
}

func TestLaunch_EnqueueFailureMarksFailedButSucceeds(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	queue := &fakeQueue{err: errors.New("broker unreachable")}
	svc := NewService(db, v, queue, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierStudio, 10, 0, 0, 0)

	entity, _, err := svc.Launch(context.Background(), u, campaignPayload(2))
	if err != nil {
		t.Fatalf("launch must still succeed so the caller gets the entity id: %v", err)
	}
	if entity.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", entity.Status)
	}

	stored, err := svc.Get(context.Background(), u.ID, entity.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed || stored.Error == nil {
		t.Fatalf("stored entity %+v", stored)
	}

	// Credits stay spent.
	var reloaded models.User
	if err := db.First(&reloaded, u.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.MonthlyCreditsVideo != 8 {
		t.Fatalf("credits must not be refunded, got %d", reloaded.MonthlyCreditsVideo)
	}
}

// launchRemote drives a plan entity into PROCESSING_REMOTE as the worker
// would after a successful engine handoff.
func launchRemote(t *testing.T, svc *Service, u *models.User) *Entity {
	t.Helper()
	entity, _, err := svc.Launch(context.Background(), u, planPayload())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := svc.Repo().MarkProcessingRemote(context.Background(), entity.ID); err != nil {
		t.Fatalf("mark processing_remote: %v", err)
	}
	return entity
}

func TestApplyCallback_ReviewVariant(t *testing.T) {
	v := MonthlyPlans()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 10, 0)
	entity := launchRemote(t, svc, u)

	result := []byte(`{"posts":[{"caption":"hello"}]}`)
	updated, err := svc.ApplyCallback(context.Background(), entity.ID, result, "")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if updated.Status != StatusReviewReady {
		t.Fatalf("status = %s, want review_ready", updated.Status)
	}
	if len(updated.Result) == 0 {
		t.Fatalf("result not attached")
	}

	approved, err := svc.Approve(context.Background(), u.ID, entity.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", approved.Status)
	}
	if len(approved.Result) == 0 {
		t.Fatalf("approval must keep the callback result")
	}
	if approved.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
}

func TestApprove_RequiresReviewReady(t *testing.T) {
	v := MonthlyPlans()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 10, 0)
	entity := launchRemote(t, svc, u)

	// The engine is still generating; an early approve must not complete
	// the entity out from under the pending callback.
	_, err := svc.Approve(context.Background(), u.ID, entity.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approve from processing_remote: want ErrInvalidTransition, got %v", err)
	}

	stored, err := svc.Repo().GetByID(context.Background(), entity.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusProcessingRemote {
		t.Fatalf("status = %s, entity must be untouched", stored.Status)
	}
	if stored.CompletedAt != nil {
		t.Fatalf("completed_at must not be set by a rejected approve")
	}

	// The callback still lands afterwards.
	updated, err := svc.ApplyCallback(context.Background(), entity.ID, []byte(`{"posts":[]}`), "")
	if err != nil {
		t.Fatalf("callback after rejected approve: %v", err)
	}
	if updated.Status != StatusReviewReady {
		t.Fatalf("status = %s, want review_ready", updated.Status)
	}
}

func TestApplyCallback_DuplicateOnCompletedRejected(t *testing.T) {
	v := MonthlyPlans()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 10, 0)
	entity := launchRemote(t, svc, u)

	result := []byte(`{"posts":[]}`)
	if _, err := svc.ApplyCallback(context.Background(), entity.ID, result, ""); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if _, err := svc.Approve(context.Background(), u.ID, entity.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := svc.ApplyCallback(context.Background(), entity.ID, result, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("duplicate callback on completed entity: want ErrInvalidTransition, got %v", err)
	}
}

func TestApplyCallback_ErrorFailsEntity(t *testing.T) {
	v := MonthlyPlans()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 10, 0)
	entity := launchRemote(t, svc, u)

	updated, err := svc.ApplyCallback(context.Background(), entity.ID, nil, "engine exploded")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if updated.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
	if updated.Error == nil || *updated.Error != "engine exploded" {
		t.Fatalf("error = %v", updated.Error)
	}
}

func TestApplyCallback_EmptyPayloadRejected(t *testing.T) {
	v := MonthlyPlans()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 10, 0)
	entity := launchRemote(t, svc, u)

	_, err := svc.ApplyCallback(context.Background(), entity.ID, nil, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestApplyCallback_UnknownEntity(t *testing.T) {
	v := MonthlyPlans()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())

	_, err := svc.ApplyCallback(context.Background(), "01HXXXXXXXXXXXXXXXXXXXXXXX", []byte(`{}`), "")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("want record not found, got %v", err)
	}
}

func TestCancel_VariantGate(t *testing.T) {
	plans := MonthlyPlans()
	db := openTestDB(t, plans)
	svc := NewService(db, plans, &fakeQueue{}, newFakeJobs(), quietLogger())

	_, err := svc.Cancel(context.Background(), 1, "whatever")
	if !errors.Is(err, ErrOperationNotSupported) {
		t.Fatalf("plans must not allow cancel, got %v", err)
	}
}

func TestCancel_PendingOnly(t *testing.T) {
	v := ResearchQueries()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 5, 0)

	raw, _ := json.Marshal(ResearchParams{SearchTopic: "fitness creators"})
	entity, _, err := svc.Launch(context.Background(), u, raw)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	// Dispatch already flipped the entity IN_PROGRESS; cancel is too late.
	_, err = svc.Cancel(context.Background(), u.ID, entity.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition for non-pending cancel, got %v", err)
	}
}

func TestCancel_Pending(t *testing.T) {
	v := ResearchQueries()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierGrowth, 0, 0, 5, 0)

	// An entity that was charged and persisted but never dispatched.
	raw, _ := json.Marshal(ResearchParams{SearchTopic: "fitness creators"})
	e := &Entity{
		ID:     "0123456789ABCDEFGHJKMNPQRS",
		UserID: u.ID,
		Params: raw,
		Status: StatusPending,
	}
	if err := svc.Repo().Create(context.Background(), nil, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), u.ID, e.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
}

func TestGet_OtherOwnerHidden(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	owner := seedUser(t, db, models.TierStudio, 10, 0, 0, 0)
	other := seedUser(t, db, models.TierStudio, 10, 0, 0, 0)

	entity, _, err := svc.Launch(context.Background(), owner, campaignPayload(1))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	if _, err := svc.Get(context.Background(), other.ID, entity.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("other owner must see not-found, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	v := Campaigns()
	db := openTestDB(t, v)
	svc := NewService(db, v, &fakeQueue{}, newFakeJobs(), quietLogger())
	u := seedUser(t, db, models.TierStudio, 10, 10, 0, 0)

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Launch(context.Background(), u, campaignPayload(1)); err != nil {
			t.Fatalf("launch %d: %v", i, err)
		}
	}

	items, err := svc.List(context.Background(), u.ID, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2 (limit)", len(items))
	}
}
