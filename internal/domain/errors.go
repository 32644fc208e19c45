package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoCredential       = errors.New("no credential stored for owner")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrNotPublished       = errors.New("entity has not been published")
	ErrNotFound           = errors.New("not found")
	ErrDraftNotFound      = errors.New("draft not found")
	ErrResourceExists     = errors.New("remote resource already recorded")
	ErrCapabilityDisabled = errors.New("operation disabled for this resource")
	ErrBudgetNotConfirmed = errors.New("budget has not been confirmed")
	ErrBudgetChanged      = errors.New("budget changed since it was proposed")
	ErrAssetRequired      = errors.New("required creative asset failed")
)

// ErrorKind classifies failures so callers can decide between retrying,
// fixing the draft and refreshing the credential.
type ErrorKind string

const (
	KindNoCredential       ErrorKind = "no_credential"
	KindFetch              ErrorKind = "fetch"
	KindNetworkTimeout     ErrorKind = "network_timeout"
	KindNotFound           ErrorKind = "not_found"
	KindValidation         ErrorKind = "validation"
	KindRateLimit          ErrorKind = "rate_limit"
	KindCredentialRejected ErrorKind = "credential_rejected"
	KindPlatformRejection  ErrorKind = "platform_rejection"
	KindNotPublished       ErrorKind = "not_published"
	KindCanceled           ErrorKind = "canceled"
	KindInternal           ErrorKind = "internal"
)

// Transient reports whether a retry may succeed without caller action.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindFetch, KindNetworkTimeout, KindRateLimit:
		return true
	}
	return false
}

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hard    bool   `json:"hard"`
}

type ValidationError struct {
	Subject    string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("%s is invalid: %s", e.Subject, strings.Join(msgs, "; "))
}

// FetchError is a transient failure to read bytes from internal storage.
type FetchError struct {
	Ref string
	// Exhausted is set once the fetcher gave up retrying.
	Exhausted bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("fetch %s (retries exhausted): %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PlatformError is a classified failure returned by the advertising platform.
type PlatformError struct {
	Kind       ErrorKind
	Op         string
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
	// Exhausted is set when a transient error used up the retry budget.
	Exhausted bool
	Err       error
}

func (e *PlatformError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	sb.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&sb, " (status %d", e.Status)
		if e.Code != 0 {
			fmt.Fprintf(&sb, ", code %d", e.Code)
		}
		sb.WriteString(")")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	} else if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Exhausted {
		sb.WriteString(" (retries exhausted)")
	}
	return sb.String()
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Step names the publish stage that failed.
type Step string

const (
	StepValidate   Step = "validate"
	StepCredential Step = "credential"
	StepAssets     Step = "assets"
	StepCampaign   Step = "campaign"
	StepAdSet      Step = "ad_set"
	StepAd         Step = "ad"
	StepPersist    Step = "persist"
)

type StepError struct {
	Step    Step
	LocalID string
	Err     error
}

func (e *StepError) Error() string {
	if e.LocalID != "" {
		return fmt.Sprintf("publish step %s (%s): %v", e.Step, e.LocalID, e.Err)
	}
	return fmt.Sprintf("publish step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf maps any error produced by the pipeline onto the error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return KindFetch
	}

	switch {
	case errors.Is(err, ErrNoCredential):
		return KindNoCredential
	case errors.Is(err, ErrNotPublished):
		return KindNotPublished
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDraftNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetworkTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

// IsTransient reports whether err is worth retrying. Exhausted platform and fetch
// errors are fatal even though their kind is transient.
func IsTransient(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) && pe.Exhausted {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Exhausted {
		return false
	}
	return KindOf(err).Transient()
}
