package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultRetention is how long a record is kept before the cleanup sweep may delete it.
const DefaultRetention = 24 * time.Hour

// Status is the lifecycle state of a record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Outcome is what a checkout attempt resolved to. OrderID is set on success and
// Reason on failure. ProductID names the line a failure was about, if any.
type Outcome struct {
	Status    Status
	OrderID   string
	Reason    string
	ProductID string
}

func Succeeded(orderID string) Outcome {
	return Outcome{Status: StatusSucceeded, OrderID: orderID}
}

func Failed(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

func FailedOn(reason, productID string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, ProductID: productID}
}

// Record is the persisted state of one idempotency key, scoped to a user.
type Record struct {
	Key         string
	UserID      string
	Fingerprint string
	Outcome     Outcome
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// AdmissionState is the answer to Begin.
type AdmissionState int

const (
	// Admitted means the caller owns the key and must Resolve it.
	Admitted AdmissionState = iota
	// InProgress means another caller owns the key and has not resolved it yet.
	InProgress
	// Resolved means the key already has a terminal outcome that should be replayed.
	Resolved
)

func (s AdmissionState) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case InProgress:
		return "in_progress"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

type Admission struct {
	State  AdmissionState
	Record Record
}

var (
	// ErrFingerprintMismatch is returned when a key is reused for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")
	// ErrNotInProgress is returned by Resolve when the key is unknown or already resolved.
	ErrNotInProgress = errors.New("idempotency: key is not in progress")
)

// Store maps idempotency keys to checkout outcomes. Begin must be atomic per
// (userID, key): of any number of concurrent callers exactly one is Admitted.
// Resolve is the only write allowed after Begin and succeeds once per admission.
type Store interface {
	Begin(ctx context.Context, key, userID, fingerprint string, now time.Time) (Admission, error)
	Resolve(ctx context.Context, key, userID string, outcome Outcome, now time.Time) (Record, error)
	Get(ctx context.Context, key, userID string) (*Record, error)
	ListInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]Record, error)
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Fingerprint hashes the parts of a request that must not change between retries.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func admissionFor(record Record, fingerprint string) (Admission, error) {
	if record.Fingerprint != fingerprint {
		return Admission{}, ErrFingerprintMismatch
	}
	if record.Outcome.Status == StatusInProgress {
		return Admission{State: InProgress, Record: record}, nil
	}
	return Admission{State: Resolved, Record: record}, nil
}
