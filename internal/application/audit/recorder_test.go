package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/finflow/internal/domain/entity"
)

type mockAuditRepo struct {
	entries   []*entity.AuditEntry
	appendErr error
	ctxErr    error
}

func (m *mockAuditRepo) Append(ctx context.Context, entry *entity.AuditEntry) error {
	m.ctxErr = ctx.Err()
	if m.appendErr != nil {
		return m.appendErr
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByResource(ctx context.Context, resourceType, resourceCode string) ([]*entity.AuditEntry, error) {
	var out []*entity.AuditEntry
	for _, e := range m.entries {
		if e.ResourceType == resourceType && e.ResourceCode == resourceCode {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type mockLogger struct {
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.errors = append(m.errors, msg)
}

func TestRecord(t *testing.T) {
	repo := &mockAuditRepo{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := NewRecorder(repo, fixedClock{now}, &mockLogger{})

	ok := r.Record(context.Background(), Entry{
		Actor:        entity.Actor{Code: "EMP-7", Name: "Dana"},
		Action:       "approve",
		ResourceType: "cash_advance",
		ResourceCode: "CA-2026-0001",
		Before:       map[string]string{"status": "submitted"},
		After:        map[string]string{"status": "active"},
		Notes:        "approved by manager",
	})
	if !ok {
		t.Fatal("expected entry to be stored")
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}

	got := repo.entries[0]
	if got.ActorCode != "EMP-7" || got.ActorName != "Dana" {
		t.Errorf("unexpected actor %s/%s", got.ActorCode, got.ActorName)
	}
	if got.Before != `{"status":"submitted"}` || got.After != `{"status":"active"}` {
		t.Errorf("unexpected snapshots %q -> %q", got.Before, got.After)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestRecord_FailureIsLoggedOnly(t *testing.T) {
	repo := &mockAuditRepo{appendErr: errors.New("disk I/O error")}
	logger := &mockLogger{}
	r := NewRecorder(repo, fixedClock{time.Now()}, logger)

	if r.Record(context.Background(), Entry{Action: "submit", ResourceType: "reimbursement", ResourceCode: "RB-2026-0001"}) {
		t.Error("expected Record to report failure")
	}
	if len(logger.errors) != 1 {
		t.Errorf("expected failure to be logged once, got %d", len(logger.errors))
	}
}

func TestRecord_IgnoresCallerCancellation(t *testing.T) {
	repo := &mockAuditRepo{}
	r := NewRecorder(repo, fixedClock{time.Now()}, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Record(ctx, Entry{Action: "deliver", ResourceType: "delivery_order", ResourceCode: "DO-2026-0001"})
	if repo.ctxErr != nil {
		t.Errorf("append saw cancelled context: %v", repo.ctxErr)
	}
}

func TestSnapshot(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"string", "draft", "draft"},
		{"map", map[string]int{"version": 2}, `{"version":2}`},
		{"unmarshalable", func() {}, "0x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snapshot(tt.in)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("snapshot() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestTrail(t *testing.T) {
	repo := &mockAuditRepo{}
	r := NewRecorder(repo, fixedClock{time.Now()}, &mockLogger{})
	ctx := context.Background()

	r.Record(ctx, Entry{Action: "create", ResourceType: "purchase_order", ResourceCode: "PO-2026-0001"})
	r.Record(ctx, Entry{Action: "create", ResourceType: "purchase_order", ResourceCode: "PO-2026-0002"})
	r.Record(ctx, Entry{Action: "submit", ResourceType: "purchase_order", ResourceCode: "PO-2026-0001"})

	trail, err := r.Trail(ctx, "purchase_order", "PO-2026-0001")
	if err != nil {
		t.Fatalf("Trail failed: %v", err)
	}
	if len(trail) != 2 || trail[1].Action != "submit" {
		t.Errorf("unexpected trail %+v", trail)
	}
}
