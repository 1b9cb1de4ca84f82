package role

import (
	"context"
	"fmt"

	"grievflow/fault"
)

// Service answers capability questions and applies the granting rules:
// an administrator may grant any capability, an assigner may grant the
// provider capability only.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Has reports whether userID holds the capability.
func (s *Service) Has(ctx context.Context, userID string, cap Capability) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return s.repo.Has(ctx, userID, cap)
}

// Require returns fault.ErrUnauthorized unless userID holds the capability.
func (s *Service) Require(ctx context.Context, userID string, cap Capability) error {
	ok, err := s.Has(ctx, userID, cap)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role: caller lacks %s capability: %w", cap, fault.ErrUnauthorized)
	}
	return nil
}

// Grant assigns a capability to granteeID on behalf of callerID. Granting
// an already-held capability is a no-op success.
func (s *Service) Grant(ctx context.Context, granteeID string, cap Capability, callerID string) error {
	if granteeID == "" {
		return fmt.Errorf("role: missing grantee id: %w", fault.ErrValidation)
	}
	if !cap.Valid() {
		return fmt.Errorf("role: unknown capability %q: %w", cap, fault.ErrValidation)
	}

	isAdmin, err := s.Has(ctx, callerID, CapAdministrator)
	if err != nil {
		return err
	}
	if !isAdmin {
		isAssigner, err := s.Has(ctx, callerID, CapAssigner)
		if err != nil {
			return err
		}
		if !isAssigner || cap != CapProvider {
			return fmt.Errorf("role: caller may not grant %s: %w", cap, fault.ErrUnauthorized)
		}
	}

	return s.repo.Insert(ctx, granteeID, cap, callerID)
}

// ListForUser returns every capability held by userID.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Capability, error) {
	return s.repo.ListForUser(ctx, userID)
}
