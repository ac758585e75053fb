package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/finshield/fraud-engine/internal/models"
)

// NewFingerprint derives a non-reversible device fingerprint from request
// metadata. Only the hash is ever persisted or used as a correlation key;
// the raw components stay inside the request.
func NewFingerprint(userAgent, ipAddress, acceptLanguage, acceptEncoding, deviceID string) *models.DeviceFingerprint {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		userAgent,
		ipAddress,
		acceptLanguage,
		acceptEncoding,
		deviceID,
	}, "\x1f")))

	return &models.DeviceFingerprint{
		Hash:           hex.EncodeToString(sum[:]),
		UserAgent:      userAgent,
		IPAddress:      ipAddress,
		AcceptLanguage: acceptLanguage,
		AcceptEncoding: acceptEncoding,
		DeviceID:       deviceID,
	}
}
