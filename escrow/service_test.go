package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"

	"grievflow/bid"
	"grievflow/db/dbtest"
	"grievflow/eventlog"
	"grievflow/fault"
	"grievflow/grievance"
	"grievflow/role"
)

type fakeRepo struct {
	grievances map[int64]grievance.Grievance
	bids       map[int64]bid.Bid
	accounts   map[int64]int64
	feeBps     int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		grievances: map[int64]grievance.Grievance{},
		bids:       map[int64]bid.Bid{},
		accounts:   map[int64]int64{},
		feeBps:     DefaultFeeBasisPoints,
	}
}

func (f *fakeRepo) LockGrievance(_ context.Context, _ pgx.Tx, id int64) (grievance.Grievance, error) {
	g, ok := f.grievances[id]
	if !ok {
		return grievance.Grievance{}, fmt.Errorf("escrow: grievance %d: %w", id, fault.ErrNotFound)
	}
	return g, nil
}

func (f *fakeRepo) GetBid(_ context.Context, _ pgx.Tx, bidID int64) (bid.Bid, error) {
	b, ok := f.bids[bidID]
	if !ok {
		return bid.Bid{}, fmt.Errorf("escrow: bid %d: %w", bidID, fault.ErrNotFound)
	}
	return b, nil
}

func (f *fakeRepo) MarkAssigned(_ context.Context, _ pgx.Tx, id int64, providerID string, amount int64) error {
	g := f.grievances[id]
	if g.Status != grievance.StatusOpen {
		return fmt.Errorf("escrow: grievance %d is no longer open: %w", id, fault.ErrState)
	}
	g.Status = grievance.StatusAssigned
	g.AssignedProviderID = &providerID
	g.EscrowAmount = amount
	f.grievances[id] = g
	return nil
}

func (f *fakeRepo) UpsertAccount(_ context.Context, _ pgx.Tx, id, amount int64) error {
	f.accounts[id] = amount
	return nil
}

func (f *fakeRepo) MarkResolved(_ context.Context, _ pgx.Tx, id int64) (ResolvedRow, error) {
	g, ok := f.grievances[id]
	if !ok || g.Status != grievance.StatusCompleted {
		return ResolvedRow{}, fmt.Errorf("escrow: grievance %d is not completed: %w", id, fault.ErrState)
	}
	g.Status = grievance.StatusResolved
	f.grievances[id] = g
	var provider string
	if g.AssignedProviderID != nil {
		provider = *g.AssignedProviderID
	}
	return ResolvedRow{LockedAmount: g.EscrowAmount, ProviderID: provider, RequesterID: g.RequesterID}, nil
}

func (f *fakeRepo) ZeroAccount(_ context.Context, _ pgx.Tx, id int64) (int64, error) {
	prev, ok := f.accounts[id]
	if !ok {
		return 0, fmt.Errorf("escrow: account for grievance %d: %w", id, fault.ErrNotFound)
	}
	if prev <= 0 {
		return 0, fmt.Errorf("escrow: account for grievance %d already drained: %w", id, fault.ErrState)
	}
	f.accounts[id] = 0
	return prev, nil
}

func (f *fakeRepo) GetAccount(_ context.Context, id int64) (Account, error) {
	amount, ok := f.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("escrow: account for grievance %d: %w", id, fault.ErrNotFound)
	}
	return Account{GrievanceID: id, LockedAmount: amount}, nil
}

func (f *fakeRepo) FeeBasisPoints(context.Context) (int64, error) {
	return f.feeBps, nil
}

func (f *fakeRepo) UpdateFee(_ context.Context, _ pgx.Tx, bps int64) error {
	f.feeBps = bps
	return nil
}

type credit struct {
	account string
	amount  int64
	kind    string
}

type fakeTreasury struct {
	credits []credit
	failOn  string
}

func (f *fakeTreasury) Credit(_ context.Context, _ pgx.Tx, account string, _ int64, amount int64, kind string) error {
	if f.failOn != "" && f.failOn == kind {
		return fmt.Errorf("escrow: credit %s rejected: %w", account, fault.ErrTransfer)
	}
	f.credits = append(f.credits, credit{account, amount, kind})
	return nil
}

type fakeRoles struct {
	caps map[string]map[role.Capability]bool
}

func (f *fakeRoles) Require(_ context.Context, userID string, cap role.Capability) error {
	if f.caps[userID][cap] {
		return nil
	}
	return fmt.Errorf("roles: %s lacks %s: %w", userID, cap, fault.ErrUnauthorized)
}

type fakeEvents struct {
	types  []string
	topics []string
}

func (f *fakeEvents) Append(_ context.Context, _ pgx.Tx, _ int64, eventType string, _ string, _ map[string]any) error {
	f.types = append(f.types, eventType)
	return nil
}

func (f *fakeEvents) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func newTestService(repo *fakeRepo) (*Service, *dbtest.FakePool, *fakeTreasury, *fakeEvents) {
	pool := &dbtest.FakePool{}
	treasury := &fakeTreasury{}
	events := &fakeEvents{}
	roles := &fakeRoles{caps: map[string]map[role.Capability]bool{
		"dao":   {role.CapAssigner: true},
		"admin": {role.CapAdministrator: true},
	}}
	return NewService(pool, repo, roles, treasury, events), pool, treasury, events
}

func seedOpenWithBid(repo *fakeRepo) {
	repo.grievances[1] = grievance.Grievance{ID: 1, RequesterID: "req", Status: grievance.StatusOpen, Live: true}
	repo.bids[10] = bid.Bid{ID: 10, GrievanceID: 1, ProviderID: "p2", AmountLocal: 9_000, AmountSettlement: 360_000, Active: true}
}

func TestFeeSplit_Conservation(t *testing.T) {
	amounts := []int64{1, 39, 400_000, 999_999_999, 123_456_789_012}
	rates := []int64{0, 1, 250, 999, 1_000}
	for _, amount := range amounts {
		for _, bps := range rates {
			split := FeeSplit(amount, bps)
			if split.WorkerPayment+split.PlatformFee != amount {
				t.Fatalf("split of %d at %d bps does not conserve: %+v", amount, bps, split)
			}
			if split.PlatformFee < 0 || split.WorkerPayment < 0 {
				t.Fatalf("negative leg in split of %d at %d bps: %+v", amount, bps, split)
			}
		}
	}
}

func TestAssign(t *testing.T) {
	repo := newFakeRepo()
	seedOpenWithBid(repo)
	svc, pool, _, events := newTestService(repo)

	if err := svc.Assign(context.Background(), 1, 10, 360_000, "dao"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !pool.Tx.Committed {
		t.Fatal("expected commit")
	}

	g := repo.grievances[1]
	if g.Status != grievance.StatusAssigned {
		t.Fatalf("expected status assigned, got %s", g.Status)
	}
	if g.AssignedProviderID == nil || *g.AssignedProviderID != "p2" {
		t.Fatalf("expected provider p2, got %v", g.AssignedProviderID)
	}
	if g.EscrowAmount != 360_000 || repo.accounts[1] != 360_000 {
		t.Fatalf("expected 360000 locked, got grievance=%d account=%d", g.EscrowAmount, repo.accounts[1])
	}
	if len(events.types) != 1 || events.types[0] != eventlog.EventTaskAssigned {
		t.Fatalf("expected assignment event, got %v", events.types)
	}
}

func TestAssign_RequiresAssignerCapability(t *testing.T) {
	repo := newFakeRepo()
	seedOpenWithBid(repo)
	svc, _, _, _ := newTestService(repo)

	err := svc.Assign(context.Background(), 1, 10, 360_000, "p2")
	if !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAssign_SecondAttemptFails(t *testing.T) {
	repo := newFakeRepo()
	seedOpenWithBid(repo)
	repo.bids[11] = bid.Bid{ID: 11, GrievanceID: 1, ProviderID: "p1", AmountSettlement: 400_000, Active: true}
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	if err := svc.Assign(ctx, 1, 10, 360_000, "dao"); err != nil {
		t.Fatalf("first assign: %v", err)
	}

	err := svc.Assign(ctx, 1, 11, 400_000, "dao")
	if !errors.Is(err, fault.ErrState) {
		t.Fatalf("expected ErrState on second assignment, got %v", err)
	}
}

func TestAssign_BidMustBelongAndBeActive(t *testing.T) {
	repo := newFakeRepo()
	seedOpenWithBid(repo)
	repo.bids[20] = bid.Bid{ID: 20, GrievanceID: 2, ProviderID: "p1", AmountSettlement: 100, Active: true}
	repo.bids[21] = bid.Bid{ID: 21, GrievanceID: 1, ProviderID: "p1", AmountSettlement: 100, Active: false}
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	if err := svc.Assign(ctx, 1, 20, 100, "dao"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign bid, got %v", err)
	}
	if err := svc.Assign(ctx, 1, 21, 100, "dao"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive bid, got %v", err)
	}
	if err := svc.Assign(ctx, 1, 99, 100, "dao"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown bid, got %v", err)
	}
}

func TestAssign_ExactFundsOnly(t *testing.T) {
	repo := newFakeRepo()
	seedOpenWithBid(repo)
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	for _, funds := range []int64{359_999, 360_001, 0} {
		err := svc.Assign(ctx, 1, 10, funds, "dao")
		if !errors.Is(err, fault.ErrArithmetic) {
			t.Fatalf("expected ErrArithmetic for funds %d, got %v", funds, err)
		}
	}
	if repo.grievances[1].Status != grievance.StatusOpen {
		t.Fatal("rejected assignment must not move status")
	}
}

func seedCompleted(repo *fakeRepo, locked int64) {
	provider := "p2"
	repo.grievances[1] = grievance.Grievance{
		ID:                 1,
		RequesterID:        "req",
		Status:             grievance.StatusCompleted,
		AssignedProviderID: &provider,
		EscrowAmount:       locked,
		Live:               true,
	}
	repo.accounts[1] = locked
}

func TestRelease_SplitsAndZeroes(t *testing.T) {
	repo := newFakeRepo()
	seedCompleted(repo, 400_000)
	svc, _, treasury, events := newTestService(repo)

	split, err := svc.Release(context.Background(), &dbtest.FakeTx{}, 1, "dao")
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	// 2.5% fee
	if split.PlatformFee != 10_000 || split.WorkerPayment != 390_000 {
		t.Fatalf("unexpected split: %+v", split)
	}
	if split.WorkerPayment+split.PlatformFee != 400_000 {
		t.Fatalf("split does not conserve funds: %+v", split)
	}
	if repo.accounts[1] != 0 {
		t.Fatalf("expected account zeroed, got %d", repo.accounts[1])
	}
	if repo.grievances[1].Status != grievance.StatusResolved {
		t.Fatalf("expected status resolved, got %s", repo.grievances[1].Status)
	}

	if len(treasury.credits) != 2 {
		t.Fatalf("expected two transfer legs, got %+v", treasury.credits)
	}
	if treasury.credits[0].account != "p2" || treasury.credits[0].amount != 390_000 {
		t.Fatalf("unexpected worker leg: %+v", treasury.credits[0])
	}
	if treasury.credits[1].account != FeeCollectorAccount || treasury.credits[1].amount != 10_000 {
		t.Fatalf("unexpected fee leg: %+v", treasury.credits[1])
	}

	if len(events.types) != 1 || events.types[0] != eventlog.EventFundsReleased {
		t.Fatalf("expected funds released event, got %v", events.types)
	}
}

func TestRelease_OnlyOnce(t *testing.T) {
	repo := newFakeRepo()
	seedCompleted(repo, 400_000)
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Release(ctx, &dbtest.FakeTx{}, 1, "dao"); err != nil {
		t.Fatalf("first release: %v", err)
	}
	_, err := svc.Release(ctx, &dbtest.FakeTx{}, 1, "dao")
	if !errors.Is(err, fault.ErrState) {
		t.Fatalf("expected ErrState on second release, got %v", err)
	}
}

func TestRelease_WrongStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.grievances[1] = grievance.Grievance{ID: 1, Status: grievance.StatusAssigned, EscrowAmount: 100}
	svc, _, _, _ := newTestService(repo)

	_, err := svc.Release(context.Background(), &dbtest.FakeTx{}, 1, "dao")
	if !errors.Is(err, fault.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestRelease_TransferFailureSurfaces(t *testing.T) {
	repo := newFakeRepo()
	seedCompleted(repo, 400_000)
	svc, _, treasury, _ := newTestService(repo)
	treasury.failOn = TransferKindPlatformFee

	_, err := svc.Release(context.Background(), &dbtest.FakeTx{}, 1, "dao")
	if !errors.Is(err, fault.ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
}

func TestSetFee(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	if err := svc.SetFee(ctx, 500, "admin"); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if repo.feeBps != 500 {
		t.Fatalf("expected fee 500, got %d", repo.feeBps)
	}

	if err := svc.SetFee(ctx, 1_001, "admin"); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected ErrValidation above cap, got %v", err)
	}
	if err := svc.SetFee(ctx, -1, "admin"); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative fee, got %v", err)
	}
	if err := svc.SetFee(ctx, 100, "dao"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
}
