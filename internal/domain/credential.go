package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type CredentialType string

const (
	CredentialUser   CredentialType = "user"
	CredentialSystem CredentialType = "system"
)

// Credential is an opaque platform access token. Its validity is only known
// when the platform rejects it.
type Credential struct {
	OwnerID   string         `db:"owner_id"`
	Type      CredentialType `db:"type"`
	Token     string         `db:"token"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (c Credential) String() string {
	return fmt.Sprintf("%s credential for %s", c.Type, c.OwnerID)
}

// BudgetProposal is the first phase of the budget confirmation gate.
type BudgetProposal struct {
	DraftID           string     `json:"draft_id"`
	DailyMinor        int64      `json:"daily_minor"`
	Currency          string     `json:"currency"`
	StartAt           *time.Time `json:"start_at,omitempty"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	ConfirmationToken string     `json:"confirmation_token"`
}

// BudgetToken fingerprints the budget so a confirmation only holds while the
// budget is unchanged.
func BudgetToken(draftID string, b Budget) string {
	s := fmt.Sprintf("%s|%d|%s", draftID, b.DailyMinor, b.Currency)
	if b.StartAt != nil {
		s += "|" + b.StartAt.UTC().Format(time.RFC3339)
	}
	if b.EndAt != nil {
		s += "|" + b.EndAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
