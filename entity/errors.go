package entity

import "errors"

// Binding error kinds. Each maps to a distinct user-facing message in the
// caller layer, so the user knows whether to retry, wait, or request a new
// code. All of them are terminal: retrying does not change the outcome.
var (
	ErrRateLimited        = errors.New("too many code requests")
	ErrAlreadyBound       = errors.New("home account already has an active binding")
	ErrPendingExists      = errors.New("an unexpired binding code is already outstanding")
	ErrInvalidCode        = errors.New("binding code does not exist")
	ErrCodeExpired        = errors.New("binding code has expired")
	ErrCodeAlreadyUsed    = errors.New("binding code was already used")
	ErrSourceAlreadyBound = errors.New("source account is bound to another home account")
	ErrHomeAlreadyBound   = errors.New("home account was bound while the code was outstanding")
)

// ErrStoreUnavailable marks transient storage failures; callers retry these
// with backoff, unlike the terminal kinds above.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrCodeCollision is returned by PutCodeIfAbsent when the generated code is
// already present. Never user-facing: issuance regenerates and retries.
var ErrCodeCollision = errors.New("binding code already exists")

// ErrContentGone marks content that is no longer available at the source.
// Deliveries failing with it are recorded as failed without retry.
var ErrContentGone = errors.New("content no longer available")

// ErrMediaTooLarge marks content exceeding the configured artifact size cap,
// also permanent: retrying never shrinks the content.
var ErrMediaTooLarge = errors.New("media exceeds size limit")
