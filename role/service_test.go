package role

import (
	"context"
	"errors"
	"testing"

	"grievflow/fault"
)

type fakeRepo struct {
	grants map[string]map[Capability]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{grants: map[string]map[Capability]bool{}}
}

func (f *fakeRepo) Has(_ context.Context, userID string, cap Capability) (bool, error) {
	return f.grants[userID][cap], nil
}

func (f *fakeRepo) Insert(_ context.Context, userID string, cap Capability, _ string) error {
	if f.grants[userID] == nil {
		f.grants[userID] = map[Capability]bool{}
	}
	f.grants[userID][cap] = true
	return nil
}

func (f *fakeRepo) ListForUser(_ context.Context, userID string) ([]Capability, error) {
	out := make([]Capability, 0, len(f.grants[userID]))
	for c := range f.grants[userID] {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) seed(userID string, caps ...Capability) {
	for _, c := range caps {
		_ = f.Insert(context.Background(), userID, c, "seed")
	}
}

func TestGrant_AdminGrantsAny(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("admin", CapAdministrator)
	svc := NewService(repo)
	ctx := context.Background()

	for _, cap := range []Capability{CapAdministrator, CapAssigner, CapProvider} {
		if err := svc.Grant(ctx, "u1", cap, "admin"); err != nil {
			t.Fatalf("admin grant %s: %v", cap, err)
		}
		ok, err := svc.Has(ctx, "u1", cap)
		if err != nil || !ok {
			t.Fatalf("expected u1 to hold %s, ok=%v err=%v", cap, ok, err)
		}
	}
}

func TestGrant_AssignerGrantsProviderOnly(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("dao", CapAssigner)
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.Grant(ctx, "worker", CapProvider, "dao"); err != nil {
		t.Fatalf("assigner should grant provider: %v", err)
	}

	err := svc.Grant(ctx, "friend", CapAssigner, "dao")
	if !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGrant_UnprivilegedCallerRejected(t *testing.T) {
	svc := NewService(newFakeRepo())

	err := svc.Grant(context.Background(), "u1", CapProvider, "nobody")
	if !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGrant_Validation(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("admin", CapAdministrator)
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.Grant(ctx, "", CapProvider, "admin"); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty grantee, got %v", err)
	}
	if err := svc.Grant(ctx, "u1", Capability("king"), "admin"); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown capability, got %v", err)
	}
}

func TestGrant_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("admin", CapAdministrator)
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.Grant(ctx, "u1", CapProvider, "admin"); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if err := svc.Grant(ctx, "u1", CapProvider, "admin"); err != nil {
		t.Fatalf("repeat grant should be a no-op success: %v", err)
	}
}

func TestRequire(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("worker", CapProvider)
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.Require(ctx, "worker", CapProvider); err != nil {
		t.Fatalf("require held capability: %v", err)
	}
	if err := svc.Require(ctx, "worker", CapAssigner); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
