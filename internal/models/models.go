package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies an aggregate risk score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Action is the decision taken for a screened operation. The set is closed:
// every assessment carries exactly one of these three values, derived from
// the score by an exhaustive threshold comparison.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionBlock   Action = "block"
)

// VelocityWindow names a rolling-counter window.
type VelocityWindow string

const (
	WindowHour VelocityWindow = "hour"
	WindowDay  VelocityWindow = "day"
	WindowWeek VelocityWindow = "week"
)

// Duration returns the length of the window.
func (w VelocityWindow) Duration() time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// TransactionContext is the immutable per-request snapshot of the operation
// being screened. For non-monetary operations (beneficiary addition, KYC
// document upload) Amount is zero.
type TransactionContext struct {
	IdentityID       uuid.UUID `json:"identity_id"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	RecipientCountry string    `json:"recipient_country"`
	RecipientID      string    `json:"recipient_id"`
	PaymentMethod    string    `json:"payment_method"`
	BeneficiaryID    string    `json:"beneficiary_id,omitempty"`
	Description      string    `json:"description,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// UserContext is the read-only identity snapshot attached by the platform.
type UserContext struct {
	IdentityID       uuid.UUID `json:"identity_id"`
	Email            string    `json:"email"`
	KYCVerified      bool      `json:"kyc_verified"`
	AccountCreatedAt time.Time `json:"account_created_at"`
}

// AccountAge returns how old the account is at the given instant.
func (u *UserContext) AccountAge(now time.Time) time.Duration {
	return now.Sub(u.AccountCreatedAt)
}

// DeviceFingerprint summarizes request metadata for correlation. Hash is a
// non-reversible digest; the raw components are kept only for signal
// extraction within the request and are never persisted.
type DeviceFingerprint struct {
	Hash           string `json:"hash"`
	UserAgent      string `json:"-"`
	IPAddress      string `json:"-"`
	AcceptLanguage string `json:"-"`
	AcceptEncoding string `json:"-"`
	DeviceID       string `json:"-"`
}

// VelocityCounter is a snapshot of one identity's rolling counters for a
// single window. The backing key expires at the window boundary; counters
// are mutated only through atomic increments.
type VelocityCounter struct {
	IdentityID  uuid.UUID      `json:"identity_id"`
	Window      VelocityWindow `json:"window"`
	Count       int64          `json:"count"`
	TotalAmount float64        `json:"total_amount"`
	WindowStart time.Time      `json:"window_start"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// RiskAssessment is the immutable outcome of screening one operation.
// Manual review appends a separate ReviewRecord rather than mutating it.
type RiskAssessment struct {
	ID             uuid.UUID          `json:"id"`
	IdentityID     uuid.UUID          `json:"identity_id"`
	FactorScores   map[string]float64 `json:"factor_scores"`
	Score          float64            `json:"score"`
	RiskLevel      RiskLevel          `json:"risk_level"`
	Action         Action             `json:"action"`
	Factors        []string           `json:"factors"`
	RequiresReview bool               `json:"requires_review"`
	SystemError    bool               `json:"system_error"`
	CreatedAt      time.Time          `json:"created_at"`
}

// FraudEvent is a RiskAssessment enriched with request metadata for audit.
// The network address is masked before the event is ever written; raw
// payload fields are never included.
type FraudEvent struct {
	ID         uuid.UUID      `json:"id"`
	Assessment RiskAssessment `json:"assessment"`
	Path       string         `json:"path"`
	Method     string         `json:"method"`
	MaskedIP   string         `json:"masked_ip"`
	UserAgent  string         `json:"user_agent"`
	RequestID  string         `json:"request_id"`
	EventType  string         `json:"event_type"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FraudEvent types: genuine detections and system-error (fail-closed)
// decisions are recorded as distinct event types so operators can tell
// outages from attacks.
const (
	EventTypeAssessment  = "fraud_assessment"
	EventTypeSystemError = "system_error"
)

// RequestMetadata carries the transport attributes the audit logger needs.
// IPAddress is raw here; masking happens at record time.
type RequestMetadata struct {
	Path      string
	Method    string
	IPAddress string
	UserAgent string
	RequestID string
}

// ReviewRecord is a manual-review outcome appended for an assessment. The
// original assessment is never mutated.
type ReviewRecord struct {
	ID           uuid.UUID `json:"id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	Action       string    `json:"action"` // confirm, dismiss
	Reviewer     string    `json:"reviewer"`
	Notes        string    `json:"notes"`
	ReviewedAt   time.Time `json:"reviewed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReviewAction enum values
const (
	ReviewActionConfirm = "confirm"
	ReviewActionDismiss = "dismiss"
)

// Operator is an internal user of the administration surface (reviewers,
// admins). Platform end users are managed elsewhere.
type Operator struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // reviewer, admin
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Operator roles
const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// RiskSummary aggregates fraud-event statistics over a period.
type RiskSummary struct {
	Days           int            `json:"days"`
	TotalEvents    int            `json:"total_events"`
	ByRiskLevel    map[string]int `json:"by_risk_level"`
	ByAction       map[string]int `json:"by_action"`
	SystemErrors   int            `json:"system_errors"`
	ReviewsPending int            `json:"reviews_pending"`
}

// FactorCount pairs a risk factor label with its occurrence count.
type FactorCount struct {
	Factor string `json:"factor"`
	Count  int    `json:"count"`
}

// HourlyVolume is a time-bucketed event count for one hour of a day.
type HourlyVolume struct {
	Hour    int `json:"hour"`
	Total   int `json:"total"`
	Blocked int `json:"blocked"`
	Flagged int `json:"flagged"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
