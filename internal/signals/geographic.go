package signals

import (
	"strings"

	"github.com/finshield/fraud-engine/configs"
)

// Known high-risk jurisdictions (ISO 3166-1 alpha-2).
var highRiskCountries = map[string]bool{
	"KP": true, "IR": true, "SY": true, "CU": true,
	"VE": true, "MM": true, "BY": true, "ZW": true,
}

// GeographicExtractor scores the recipient country against the configured
// allow-list, with a further penalty for known high-risk jurisdictions.
type GeographicExtractor struct {
	allowed map[string]bool
}

// NewGeographicExtractor creates the geographic signal extractor.
func NewGeographicExtractor(cfg configs.FraudConfig) *GeographicExtractor {
	allowed := make(map[string]bool, len(cfg.AllowedCountries))
	for _, c := range cfg.AllowedCountries {
		allowed[strings.ToUpper(c)] = true
	}
	return &GeographicExtractor{allowed: allowed}
}

func (e *GeographicExtractor) Name() string { return SignalGeographic }

func (e *GeographicExtractor) Evaluate(in *Input) (Signal, error) {
	var sig Signal

	country := strings.ToUpper(in.Tx.RecipientCountry)
	if country == "" {
		return sig, nil
	}

	if !e.allowed[country] {
		sig.Score = 0.7
		sig.Factors = append(sig.Factors, "unsupported country")

		if highRiskCountries[country] {
			sig.Score = 1.0
			sig.Factors = append(sig.Factors, "high-risk jurisdiction")
		}
	}

	return sig, nil
}
