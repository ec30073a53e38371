package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := &Job{ID: "j1", Address: "0xabc", Type: "wallet", MaxRetries: 2}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j1", Address: "0xabc"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	claimed, err := store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("reclaim after failure: %v", err)
	}
	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom again", false); err != nil {
		t.Fatalf("mark failed twice: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted after max retries, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreClaimCompleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "done", Address: "0xabc", MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "done"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "done", Report{RiskTier: "GREEN"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "done"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}

	got, err := store.Get(ctx, "done")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Report == nil || got.Report.RiskTier != "GREEN" {
		t.Fatalf("expected stored report, got %+v", got.Report)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", Address: "0xAAA", Type: "wallet", Status: StatusPending, MaxRetries: 3},
		{ID: "j2", Address: "0xBBB", Type: "wallet", Status: StatusPending, MaxRetries: 3},
		{ID: "j3", Address: "0xCCC", Type: "token", Status: StatusPending, MaxRetries: 3},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create %s: %v", job.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", Report{RiskTier: "RED"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	byAddress, err := store.List(ctx, buildListOptions([]ListOption{WithAddress("0xaaa")}))
	if err != nil {
		t.Fatalf("list by address: %v", err)
	}
	if len(byAddress) != 1 || byAddress[0].ID != "j1" {
		t.Fatalf("address filter should be case insensitive: %+v", byAddress)
	}

	red, err := store.List(ctx, buildListOptions([]ListOption{WithRiskTiers("RED")}))
	if err != nil {
		t.Fatalf("list by tier: %v", err)
	}
	if len(red) != 1 || red[0].ID != "j3" {
		t.Fatalf("unexpected tier list: %+v", red)
	}

	withReport, err := store.List(ctx, buildListOptions([]ListOption{WithReportPresence(true)}))
	if err != nil {
		t.Fatalf("list with report: %v", err)
	}
	if len(withReport) != 1 || withReport[0].ID != "j3" {
		t.Fatalf("unexpected report list: %+v", withReport)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}

	paged, err := store.List(ctx, buildListOptions([]ListOption{WithLimit(1), WithOffset(1), WithSortOrder(SortByUpdatedAsc)}))
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "j2" {
		t.Fatalf("unexpected page: %+v", paged)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Job{ID: id, Address: "0x" + id, MaxRetries: 3}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", Report{RiskTier: "YELLOW"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["a"].UpdatedAt = base.Unix()
	store.jobs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}
}
