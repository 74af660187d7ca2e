package orchestrator

import (
	"strings"

	"github.com/revlane/assistant/internal/domain"
)

// Topical domain tags. These feed the tool filter; they are heuristics, not a
// taxonomy contract.
const (
	domainReliability = "reliability"
	domainPerformance = "performance"
	domainMaintenance = "maintenance"
	domainPricing     = "pricing"
	domainImage       = "image"
)

var domainKeywords = map[string][]string{
	domainReliability: {
		"reliable", "reliability", "break down", "breaks down", "common problems",
		"common issues", "known issues", "recall", "recalls", "lemon", "last long",
		"longevity", "fail", "failure",
	},
	domainPerformance: {
		"0-60", "0 to 60", "quarter mile", "lap time", "horsepower", "hp gain",
		"torque", "dyno", "faster", "fastest", "track day", "nurburgring",
		"acceleration", "top speed", "tune", "tuning",
	},
	domainMaintenance: {
		"oil change", "maintenance", "service interval", "spark plug", "brake fluid",
		"coolant", "timing belt", "timing chain", "tire rotation", "scheduled service",
	},
	domainPricing: {
		"price", "worth", "cost to buy", "how much", "under $", "budget", "resale",
		"depreciation", "market value", "good deal", "listings", "for sale",
	},
}

// detectDomains maps message text onto topical domains with a keyword matcher
// and merges the image domain when attachments are present.
func detectDomains(message string, attachments []domain.Attachment) []string {
	text := strings.ToLower(message)

	var detected []string
	for _, d := range []string{domainReliability, domainPerformance, domainMaintenance, domainPricing} {
		for _, kw := range domainKeywords[d] {
			if strings.Contains(text, kw) {
				detected = append(detected, d)
				break
			}
		}
	}
	if len(attachments) > 0 {
		detected = append(detected, domainImage)
	}
	return detected
}
