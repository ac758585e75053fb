package signals

import (
	"net"

	"github.com/mssola/useragent"

	"github.com/finshield/fraud-engine/configs"
)

// DeviceExtractor scores the device fingerprint: fingerprints shared across
// many identities, identities spread across many devices, and anomalous
// user-agent or network-address metadata.
type DeviceExtractor struct {
	maxDevicesPerIdentity  int64
	maxIdentitiesPerDevice int64
}

// NewDeviceExtractor creates the device signal extractor.
func NewDeviceExtractor(cfg configs.FraudConfig) *DeviceExtractor {
	return &DeviceExtractor{
		maxDevicesPerIdentity:  int64(cfg.MaxDevicesPerIdentity),
		maxIdentitiesPerDevice: int64(cfg.MaxIdentitiesPerDevice),
	}
}

func (e *DeviceExtractor) Name() string { return SignalDevice }

func (e *DeviceExtractor) Evaluate(in *Input) (Signal, error) {
	var sig Signal

	if in.IdentitiesOnDevice > e.maxIdentitiesPerDevice {
		sig.Score += 0.5
		sig.Factors = append(sig.Factors, "device shared across identities")
	}

	if in.DevicesForIdentity > e.maxDevicesPerIdentity {
		sig.Score += 0.4
		sig.Factors = append(sig.Factors, "excessive devices for identity")
	}

	switch {
	case in.Device.UserAgent == "":
		sig.Score += 0.3
		sig.Factors = append(sig.Factors, "missing user agent")
	case isAnomalousUserAgent(in.Device.UserAgent):
		sig.Score += 0.3
		sig.Factors = append(sig.Factors, "anomalous user agent")
	}

	if !isRoutableAddress(in.Device.IPAddress) {
		sig.Score += 0.2
		sig.Factors = append(sig.Factors, "non-routable network address")
	}

	sig.Score = clamp01(sig.Score)
	return sig, nil
}

// isAnomalousUserAgent reports whether the user-agent string looks like an
// automated client or cannot be parsed as a browser at all.
func isAnomalousUserAgent(raw string) bool {
	ua := useragent.New(raw)
	if ua.Bot() {
		return true
	}
	name, _ := ua.Browser()
	return name == ""
}

// isRoutableAddress reports whether the address parses as a public unicast
// IP. Loopback, private, link-local and unspecified addresses indicate a
// proxied or anonymized origin.
func isRoutableAddress(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}
