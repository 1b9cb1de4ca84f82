package disagreement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"

	"grievflow/db/dbtest"
	"grievflow/fault"
	"grievflow/grievance"
	"grievflow/role"
)

type fakeRepo struct {
	grievances map[int64]grievance.Grievance
	notes      []Note
	nextID     int
}

func (f *fakeRepo) GetGrievance(_ context.Context, _ pgx.Tx, id int64) (grievance.Grievance, error) {
	g, ok := f.grievances[id]
	if !ok {
		return grievance.Grievance{}, fmt.Errorf("disagreement: grievance %d: %w", id, fault.ErrNotFound)
	}
	return g, nil
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, grievanceID int64, authorID, body string) (Note, error) {
	f.nextID++
	n := Note{ID: fmt.Sprintf("n%d", f.nextID), GrievanceID: grievanceID, AuthorID: authorID, Body: body}
	f.notes = append(f.notes, n)
	return n, nil
}

func (f *fakeRepo) ListForGrievance(_ context.Context, grievanceID int64) ([]Note, error) {
	var out []Note
	for _, n := range f.notes {
		if n.GrievanceID == grievanceID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeRoles struct {
	assigners map[string]bool
}

func (f *fakeRoles) Require(_ context.Context, userID string, cap role.Capability) error {
	if cap == role.CapAssigner && f.assigners[userID] {
		return nil
	}
	return fmt.Errorf("roles: %s lacks %s: %w", userID, cap, fault.ErrUnauthorized)
}

type fakeEvents struct {
	types []string
}

func (f *fakeEvents) Append(_ context.Context, _ pgx.Tx, _ int64, eventType string, _ string, _ map[string]any) error {
	f.types = append(f.types, eventType)
	return nil
}

func (f *fakeEvents) Enqueue(_ context.Context, _ pgx.Tx, _ string, _ map[string]any) error {
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	provider := "p2"
	repo := &fakeRepo{grievances: map[int64]grievance.Grievance{
		1: {ID: 1, RequesterID: "req", Status: grievance.StatusCompleted, AssignedProviderID: &provider, Live: true},
		2: {ID: 2, RequesterID: "req", Status: grievance.StatusAssigned, AssignedProviderID: &provider, Live: true},
	}}
	svc := NewService(&dbtest.FakePool{}, repo,
		&fakeRoles{assigners: map[string]bool{"dao": true}}, &fakeEvents{})
	return svc, repo
}

func TestRecord_AllThreeParties(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	for _, author := range []string{"req", "p2", "dao"} {
		if _, err := svc.Record(ctx, 1, author, "work is incomplete"); err != nil {
			t.Fatalf("record by %s: %v", author, err)
		}
	}
	if len(repo.notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(repo.notes))
	}
	if repo.grievances[1].Status != grievance.StatusCompleted {
		t.Fatal("recording a note must not move the grievance status")
	}
}

func TestRecord_Outsider(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Record(context.Background(), 1, "stranger", "objection")
	if !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRecord_OnlyWhileAwaitingConfirmation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Record(context.Background(), 2, "req", "objection")
	if !errors.Is(err, fault.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestRecord_EmptyBody(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Record(context.Background(), 1, "req", "  ")
	if !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecord_UnknownGrievance(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Record(context.Background(), 99, "req", "objection")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
