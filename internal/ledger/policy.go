package ledger

import (
	"context"
	"fmt"
)

// Policy decides whether one user can accrue the same minute on several
// projects. It is fixed when a ledger is built.
type Policy int

const (
	// PolicyExclusive lets the first project seen in a (user, minute) own it.
	PolicyExclusive Policy = iota
	// PolicyAllowMulti counts every (user, project, minute) on its own.
	PolicyAllowMulti
)

func (p Policy) String() string {
	switch p {
	case PolicyExclusive:
		return "exclusive"
	case PolicyAllowMulti:
		return "allow-multi"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "exclusive" (also "") and "allow-multi".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "exclusive":
		return PolicyExclusive, nil
	case "allow-multi":
		return PolicyAllowMulti, nil
	}
	return 0, fmt.Errorf("unknown concurrency policy %q", s)
}

// MinuteStore is the pair of atomic primitives a backend offers to a
// Deduplicator. Both must be insert-if-absent operations.
type MinuteStore interface {
	// ClaimMinute records project as the owner of (user, minute) unless one
	// is already recorded, and returns the owner.
	ClaimMinute(ctx context.Context, userID string, minute MinuteIndex, project string) (string, error)
	// InsertMinute stores the (user, project, minute) record and reports
	// whether it was absent before.
	InsertMinute(ctx context.Context, userID, project string, minute MinuteIndex) (bool, error)
}

// Deduplicator decides whether a heartbeat produces a new countable minute.
type Deduplicator interface {
	Admit(ctx context.Context, store MinuteStore, userID, project string, minute MinuteIndex) (bool, error)
	Policy() Policy
}

// NewDeduplicator returns the strategy for p.
func NewDeduplicator(p Policy) Deduplicator {
	if p == PolicyAllowMulti {
		return allowMulti{}
	}
	return exclusive{}
}

type exclusive struct{}

func (exclusive) Policy() Policy { return PolicyExclusive }

func (exclusive) Admit(ctx context.Context, store MinuteStore, userID, project string, minute MinuteIndex) (bool, error) {
	owner, err := store.ClaimMinute(ctx, userID, minute, project)
	if err != nil {
		return false, err
	}
	if owner != project {
		return false, nil
	}
	return store.InsertMinute(ctx, userID, project, minute)
}

type allowMulti struct{}

func (allowMulti) Policy() Policy { return PolicyAllowMulti }

func (allowMulti) Admit(ctx context.Context, store MinuteStore, userID, project string, minute MinuteIndex) (bool, error) {
	return store.InsertMinute(ctx, userID, project, minute)
}
