// Package gateway screens sensitive API operations before they reach their
// handlers. It sits behind authentication: by the time a request arrives
// here the customer identity has already been resolved.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/internal/audit"
	"github.com/finshield/fraud-engine/internal/auth"
	"github.com/finshield/fraud-engine/internal/engine"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/signals"
	"github.com/finshield/fraud-engine/internal/velocity"
)

// ContextAssessmentKey is the gin context key under which the gateway
// attaches the completed assessment for downstream handlers.
const ContextAssessmentKey = "risk_assessment"

// Response codes returned to clients.
const (
	CodeFraudDetected     = "FRAUD_DETECTED"
	CodeFraudSystemError  = "FRAUD_SYSTEM_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeAuthRequired      = "AUTHENTICATION_REQUIRED"
)

const maxScreenedBodyBytes = 1 << 20

// screeningPayload is the subset of a request body the extractors care
// about. Unknown fields are ignored so the gateway can screen any screened
// endpoint without sharing its full request schema.
type screeningPayload struct {
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	RecipientCountry string  `json:"recipient_country"`
	RecipientID      string  `json:"recipient_id"`
	PaymentMethod    string  `json:"payment_method"`
	BeneficiaryID    string  `json:"beneficiary_id"`
	Description      string  `json:"description"`
}

// Gateway is the fraud screening middleware.
type Gateway struct {
	engine        *engine.Engine
	limiter       *velocity.RateLimiter
	recorder      *audit.Recorder
	screenedPaths []string
}

func NewGateway(eng *engine.Engine, limiter *velocity.RateLimiter, recorder *audit.Recorder, screenedPaths []string) *Gateway {
	return &Gateway{engine: eng, limiter: limiter, recorder: recorder, screenedPaths: screenedPaths}
}

// Middleware returns the gin handler performing the screening. Requests to
// paths outside the screened set pass through untouched.
func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.isScreened(c.Request.URL.Path) {
			c.Next()
			return
		}

		user, ok := auth.IdentityFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authentication required for this operation",
				"code":    CodeAuthRequired,
			})
			c.Abort()
			return
		}

		if !g.allowRate(c, user) {
			return
		}

		payload, err := readPayload(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Malformed request body",
			})
			c.Abort()
			return
		}

		tx := &models.TransactionContext{
			IdentityID:       user.IdentityID,
			Amount:           payload.Amount,
			Currency:         payload.Currency,
			RecipientCountry: strings.ToUpper(payload.RecipientCountry),
			RecipientID:      payload.RecipientID,
			PaymentMethod:    payload.PaymentMethod,
			BeneficiaryID:    payload.BeneficiaryID,
			Description:      payload.Description,
			Timestamp:        time.Now().UTC(),
		}
		device := fingerprintFromRequest(c)

		assessment, err := g.engine.Assess(c.Request.Context(), tx, user, device)
		if err != nil {
			if errors.Is(err, engine.ErrInvalidContext) {
				c.JSON(http.StatusBadRequest, gin.H{
					"success": false,
					"message": err.Error(),
				})
				c.Abort()
				return
			}
			// Assess fails closed internally; any other error here is a
			// programming bug. Block anyway.
			log.Error().Err(err).Msg("Unexpected assessment error")
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Operation blocked",
				"code":    CodeFraudSystemError,
			})
			c.Abort()
			return
		}

		g.recorder.Record(assessment, models.RequestMetadata{
			Path:      c.Request.URL.Path,
			Method:    c.Request.Method,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString("request_id"),
		})

		if assessment.Action == models.ActionBlock {
			code := CodeFraudDetected
			message := "Operation blocked by fraud prevention"
			if assessment.SystemError {
				code = CodeFraudSystemError
				message = "Operation temporarily unavailable"
			}
			c.JSON(http.StatusForbidden, gin.H{
				"success":         false,
				"message":         message,
				"code":            code,
				"risk_level":      assessment.RiskLevel,
				"requires_review": assessment.RequiresReview,
			})
			c.Abort()
			return
		}

		c.Set(ContextAssessmentKey, assessment)
		c.Next()
	}
}

func (g *Gateway) isScreened(path string) bool {
	for _, prefix := range g.screenedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gateway) allowRate(c *gin.Context, user *models.UserContext) bool {
	scope := user.IdentityID.String()
	if user.IdentityID == uuid.Nil {
		scope = c.ClientIP()
	}

	allowed, retryAfter, err := g.limiter.Allow(c.Request.Context(), scope)
	if err != nil {
		// Rate limiting degrades open; the risk assessment itself still
		// fails closed on store errors.
		log.Warn().Err(err).Str("scope", scope).Msg("Rate limit check failed")
		return true
	}
	if allowed {
		return true
	}

	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"success":     false,
		"message":     "Too many requests, slow down",
		"code":        CodeRateLimitExceeded,
		"retry_after": seconds,
	})
	c.Abort()
	return false
}

// readPayload parses the screening fields out of the request body and
// restores the body so the downstream handler can read it again. Bodies that
// are empty or not JSON objects screen with a zero payload rather than
// failing, since not every screened endpoint carries monetary fields.
func readPayload(c *gin.Context) (screeningPayload, error) {
	var payload screeningPayload
	if c.Request.Body == nil {
		return payload, nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScreenedBodyBytes))
	if err != nil {
		return payload, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload, nil
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return screeningPayload{}, err
	}
	return payload, nil
}

func fingerprintFromRequest(c *gin.Context) *models.DeviceFingerprint {
	return signals.NewFingerprint(
		c.Request.UserAgent(),
		c.ClientIP(),
		c.GetHeader("Accept-Language"),
		c.GetHeader("Accept-Encoding"),
		c.GetHeader("X-Device-ID"),
	)
}
