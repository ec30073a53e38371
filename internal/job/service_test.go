package job

import (
	"context"
	"errors"
	"testing"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
)

type recordingProducer struct {
	published []string
	err       error
}

func (p *recordingProducer) Publish(ctx context.Context, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, jobID)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestSubmitValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), &recordingProducer{}, 3)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, Request{Address: "  "}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error for empty address, got %v", err)
	}
	if _, err := svc.Submit(ctx, Request{Address: "0xabc", Type: "nft"}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error for unsupported type, got %v", err)
	}
}

func TestSubmitCreatesAndPublishes(t *testing.T) {
	producer := &recordingProducer{}
	svc := NewService(NewMemoryStore(), producer, 5)
	ctx := context.Background()

	job, err := svc.Submit(ctx, Request{Address: " 0xabc ", Chain: "ethereum"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a generated job ID")
	}
	if job.Address != "0xabc" {
		t.Fatalf("expected trimmed address, got %q", job.Address)
	}
	if job.Type != analysis.TypeWallet {
		t.Fatalf("expected wallet default type, got %s", job.Type)
	}
	if job.Status != StatusPending || job.MaxRetries != 5 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(producer.published) != 1 || producer.published[0] != job.ID {
		t.Fatalf("expected job to be published once, got %v", producer.published)
	}
}

func TestSubmitIdempotentByID(t *testing.T) {
	producer := &recordingProducer{}
	svc := NewService(NewMemoryStore(), producer, 3)
	ctx := context.Background()

	first, err := svc.Submit(ctx, Request{ID: "fixed", Address: "0xabc"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.Submit(ctx, Request{ID: "fixed", Address: "0xdef"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID || second.Address != "0xabc" {
		t.Fatalf("resubmit should return the original job, got %+v", second)
	}
	if len(producer.published) != 1 {
		t.Fatalf("resubmit must not publish again, got %v", producer.published)
	}
}

func TestSubmitPublishFailureMarksJobFailed(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &recordingProducer{err: errors.New("queue down")}, 3)
	ctx := context.Background()

	_, err := svc.Submit(ctx, Request{ID: "doomed", Address: "0xabc"})
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected publish error code, got %v", err)
	}

	job, getErr := store.Get(ctx, "doomed")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("expected terminally failed job, got %+v", job)
	}
}
