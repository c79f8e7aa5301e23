package service

import (
	"fmt"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusProvisioning Status = "PROVISIONING"
	StatusActive       Status = "ACTIVE"
	StatusFreeTrial    Status = "FREE_TRIAL"
	StatusSuspended    Status = "SUSPENDED"
	StatusCancelled    Status = "CANCELLED"
)

// ParseStatus converts a stored or requested value into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusProvisioning, StatusActive, StatusFreeTrial, StatusSuspended, StatusCancelled:
		return st, nil
	default:
		return "", apperr.New(apperr.ValidationFailed, fmt.Sprintf("unknown account status %q", s))
	}
}

// Enabled reports whether users of the account may sign in.
func (s Status) Enabled() bool {
	return s == StatusActive || s == StatusFreeTrial
}

// SideEffect is the instruction a status change leaves for the tenant schema.
type SideEffect string

const (
	SideEffectNone               SideEffect = "NONE"
	SideEffectSuspendByAccount   SideEffect = "SUSPEND_BY_ACCOUNT"
	SideEffectUnsuspendByAccount SideEffect = "UNSUSPEND_BY_ACCOUNT"
	SideEffectCancelAccount      SideEffect = "CANCEL_ACCOUNT"
)

// ParseSideEffect converts a stored pending action back into a SideEffect.
func ParseSideEffect(s string) (SideEffect, error) {
	switch e := SideEffect(s); e {
	case SideEffectNone, SideEffectSuspendByAccount, SideEffectUnsuspendByAccount, SideEffectCancelAccount:
		return e, nil
	default:
		return "", fmt.Errorf("unknown cascade action %q", s)
	}
}

// APIAction is the name the HTTP contract uses for the side effect.
func (e SideEffect) APIAction() string {
	if e == SideEffectCancelAccount {
		return "CANCELLED"
	}
	return string(e)
}

var transitions = map[Status][]Status{
	StatusProvisioning: {StatusActive, StatusFreeTrial, StatusCancelled},
	StatusActive:       {StatusSuspended, StatusCancelled},
	StatusFreeTrial:    {StatusActive, StatusSuspended, StatusCancelled},
	StatusSuspended:    {StatusActive, StatusFreeTrial, StatusCancelled},
	StatusCancelled:    {},
}

// CanTransition reports whether from -> to is allowed. Re-applying the current
// status is always allowed so a cascade can be re-run through the API.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComputeSideEffect maps a transition to the cascade it requires. Targets of
// CANCELLED and SUSPENDED always carry their cascade, so repeating them
// re-applies it.
func ComputeSideEffect(from, to Status) SideEffect {
	switch {
	case to == StatusCancelled:
		return SideEffectCancelAccount
	case to == StatusSuspended:
		return SideEffectSuspendByAccount
	case from == StatusSuspended && to.Enabled():
		return SideEffectUnsuspendByAccount
	default:
		return SideEffectNone
	}
}
