package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/revlane/assistant/internal/domain"
)

func TestDetectDomains(t *testing.T) {
	cases := []struct {
		name        string
		message     string
		attachments []domain.Attachment
		expected    []string
	}{
		{"no domain", "What's the best sports car under 50 grand?", nil, nil},
		{"reliability", "Is the GR86 reliable long term?", nil, []string{domainReliability}},
		{"performance", "What does it run in the quarter mile?", nil, []string{domainPerformance}},
		{"maintenance", "When is the next oil change due?", nil, []string{domainMaintenance}},
		{"pricing", "What's a fair price for a 2022 WRX?", nil, []string{domainPricing}},
		{"multiple", "Is a tuned WRX reliable and what's it worth?", nil, []string{domainReliability, domainPerformance, domainPricing}},
		{"image from attachment", "what is this?", []domain.Attachment{{Kind: "image", URL: "http://x/1.jpg"}}, []string{domainImage}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, detectDomains(tc.message, tc.attachments))
		})
	}
}

func TestDetectCitationCategory(t *testing.T) {
	cases := []struct {
		message  string
		expected citationCategory
	}{
		{"Is the FA24 reliable?", categoryReliability},
		{"Any reliability concerns with the EJ25?", categoryReliability},
		{"What are the common problems on the N55?", categoryReliability},
		{"How much hp does a tune gain?", categoryPerformanceGain},
		{"Is a muffler delete legal in California?", categoryLegal},
		{"What's the FWD lap record at the Nurburgring?", categoryRecordTime},
		{"What color should I wrap my car?", categoryNone},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			assert.Equal(t, tc.expected, detectCitationCategory(tc.message))
		})
	}
}

func TestEvidenceToolOrder(t *testing.T) {
	assert.Equal(t, []string{"reliability_reports", "search_knowledge"}, evidenceToolOrder(categoryReliability))
	assert.Equal(t, []string{"track_times", "search_knowledge"}, evidenceToolOrder(categoryRecordTime))
	assert.Equal(t, []string{"search_knowledge"}, evidenceToolOrder(categoryLegal))
	assert.Equal(t, []string{"search_knowledge"}, evidenceToolOrder(categoryPerformanceGain))
}
