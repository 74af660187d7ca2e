package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/revlane/assistant/internal/domain"
)

// Builtin tool set. Handlers are backed by embedded reference data so the
// runtime is exercisable without external data services; production swaps the
// data layer, not the tool contracts.

func objectSchema(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(fmt.Sprintf(`{"type":"object","properties":%s,"required":%s}`, props, req))
}

// RegisterBuiltins installs the full builtin tool set.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		desc    domain.ToolDescriptor
		handler Handler
	}{
		{
			desc: domain.ToolDescriptor{
				Name:        "search_knowledge",
				Description: "Search the automotive knowledge base. Returns excerpts with source locators.",
				InputSchema: objectSchema(`{"query":{"type":"string","description":"search terms"}}`, "query"),
				MinPlan:     domain.PlanFree,
				Core:        true,
			},
			handler: searchKnowledge,
		},
		{
			desc: domain.ToolDescriptor{
				Name:          "vehicle_specs",
				Description:   "Look up factory specifications for a vehicle by slug (e.g. mazda-mx5-nd).",
				InputSchema:   objectSchema(`{"vehicle":{"type":"string","description":"vehicle slug"}}`, "vehicle"),
				MinPlan:       domain.PlanFree,
				Core:          true,
				ContextParams: []string{"vehicle"},
			},
			handler: vehicleSpecs,
		},
		{
			desc: domain.ToolDescriptor{
				Name:          "reliability_reports",
				Description:   "Fetch owner-reported reliability data and common failure points for a vehicle.",
				InputSchema:   objectSchema(`{"vehicle":{"type":"string","description":"vehicle slug"}}`, "vehicle"),
				MinPlan:       domain.PlanFree,
				Domains:       []string{"reliability"},
				ContextParams: []string{"vehicle"},
			},
			handler: reliabilityReports,
		},
		{
			desc: domain.ToolDescriptor{
				Name:          "recall_lookup",
				Description:   "Look up open safety recalls and service campaigns for a vehicle.",
				InputSchema:   objectSchema(`{"vehicle":{"type":"string","description":"vehicle slug"}}`, "vehicle"),
				MinPlan:       domain.PlanFree,
				Core:          true,
				Domains:       []string{"reliability", "maintenance"},
				ContextParams: []string{"vehicle"},
			},
			handler: recallLookup,
		},
		{
			desc: domain.ToolDescriptor{
				Name:          "track_times",
				Description:   "Fetch verified lap and acceleration times for a vehicle.",
				InputSchema:   objectSchema(`{"vehicle":{"type":"string","description":"vehicle slug"}}`, "vehicle"),
				MinPlan:       domain.PlanFree,
				Domains:       []string{"performance"},
				ContextParams: []string{"vehicle"},
			},
			handler: trackTimes,
		},
		{
			desc: domain.ToolDescriptor{
				Name:          "maintenance_schedule",
				Description:   "Fetch the factory maintenance schedule and known service intervals for a vehicle.",
				InputSchema:   objectSchema(`{"vehicle":{"type":"string","description":"vehicle slug"}}`, "vehicle"),
				MinPlan:       domain.PlanFree,
				Core:          true,
				Domains:       []string{"maintenance"},
				ContextParams: []string{"vehicle"},
			},
			handler: maintenanceSchedule,
		},
		{
			desc: domain.ToolDescriptor{
				Name:        "market_listings",
				Description: "Search current market listings and recent sale prices by model and budget.",
				InputSchema: objectSchema(`{"query":{"type":"string"},"max_price_usd":{"type":"integer"}}`, "query"),
				MinPlan:     domain.PlanEnthusiast,
				Domains:     []string{"pricing"},
			},
			handler: marketListings,
		},
		{
			desc: domain.ToolDescriptor{
				Name:        "web_search",
				Description: "Search the web for recent automotive news and discussion.",
				InputSchema: objectSchema(`{"query":{"type":"string"}}`, "query"),
				MinPlan:     domain.PlanEnthusiast,
				Core:        true,
				Toggle:      "web_search",
			},
			handler: webSearch,
		},
		{
			desc: domain.ToolDescriptor{
				Name:        "image_analysis",
				Description: "Identify the vehicle and visible condition issues in an attached photo.",
				InputSchema: objectSchema(`{"image_url":{"type":"string"}}`, "image_url"),
				MinPlan:     domain.PlanPro,
				Domains:     []string{"image"},
			},
			handler: imageAnalysis,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.desc, b.handler); err != nil {
			return err
		}
	}
	return nil
}

type vehicleInput struct {
	Vehicle string `json:"vehicle"`
}

type queryInput struct {
	Query       string `json:"query"`
	MaxPriceUSD int64  `json:"max_price_usd"`
}

// excerpt is the shape the citation pass consumes: a snippet plus a source
// locator.
type excerpt struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type specSheet struct {
	Model      string `json:"model"`
	Years      string `json:"years"`
	Engine     string `json:"engine"`
	PowerHP    int    `json:"power_hp"`
	TorqueLbFt int    `json:"torque_lb_ft"`
	CurbLbs    int    `json:"curb_weight_lbs"`
	Drivetrain string `json:"drivetrain"`
}

var specData = map[string]specSheet{
	"mazda-mx5-nd": {
		Model: "Mazda MX-5 Miata (ND)", Years: "2016-2025",
		Engine: "2.0L SKYACTIV-G I4", PowerHP: 181, TorqueLbFt: 151,
		CurbLbs: 2341, Drivetrain: "RWD",
	},
	"toyota-gr86": {
		Model: "Toyota GR86", Years: "2022-2025",
		Engine: "2.4L FA24 flat-4", PowerHP: 228, TorqueLbFt: 184,
		CurbLbs: 2811, Drivetrain: "RWD",
	},
	"honda-civic-type-r-fl5": {
		Model: "Honda Civic Type R (FL5)", Years: "2023-2025",
		Engine: "2.0L K20C1 turbo I4", PowerHP: 315, TorqueLbFt: 310,
		CurbLbs: 3188, Drivetrain: "FWD",
	},
	"bmw-m2-g87": {
		Model: "BMW M2 (G87)", Years: "2023-2025",
		Engine: "3.0L S58 twin-turbo I6", PowerHP: 453, TorqueLbFt: 406,
		CurbLbs: 3814, Drivetrain: "RWD",
	},
	"subaru-wrx-vb": {
		Model: "Subaru WRX (VB)", Years: "2022-2025",
		Engine: "2.4L FA24F turbo flat-4", PowerHP: 271, TorqueLbFt: 258,
		CurbLbs: 3297, Drivetrain: "AWD",
	},
}

var reliabilityData = map[string][]excerpt{
	"mazda-mx5-nd": {
		{Source: "owner-survey/2024/mx5-nd", Text: "ND Miata owners report a 4.7/5 reliability score across 1,842 responses; the most cited issue is soft-top drain clogging, not a mechanical fault."},
		{Source: "fleet-data/2023/mazda", Text: "SKYACTIV-G 2.0 shows no systemic failures through 120k miles in tracked fleet data."},
	},
	"toyota-gr86": {
		{Source: "owner-survey/2024/gr86", Text: "GR86 scores 4.4/5; early 2022 builds reported RTV sealant debris in oil pickups, addressed under warranty campaign."},
	},
	"honda-civic-type-r-fl5": {
		{Source: "owner-survey/2024/fl5", Text: "FL5 Type R scores 4.6/5; sustained track use can heat-soak the factory intercooler but no durability failures are linked to it."},
	},
	"subaru-wrx-vb": {
		{Source: "owner-survey/2024/wrx-vb", Text: "VB WRX scores 4.1/5; the FA24F has not shown the ringland issues associated with the older EJ engines."},
	},
}

var recallData = map[string][]excerpt{
	"toyota-gr86": {
		{Source: "nhtsa/22V-600", Text: "Campaign 22V-600: inspect oil pickup for RTV sealant debris on 2022 builds."},
	},
	"subaru-wrx-vb": {
		{Source: "nhtsa/23V-123", Text: "Campaign 23V-123: reprogram ECU to correct cold-start idle surge on early 2022 VB WRX."},
	},
}

var trackData = map[string][]excerpt{
	"honda-civic-type-r-fl5": {
		{Source: "timing/suzuka/2022-11", Text: "FL5 Civic Type R set a 2:23.120 at Suzuka, the front-wheel-drive production record at the time."},
		{Source: "timing/accel/fl5", Text: "Independent testing: 0-60 mph in 5.0s, quarter mile 13.5s @ 108 mph."},
	},
	"bmw-m2-g87": {
		{Source: "timing/nurburgring/2023-06", Text: "G87 M2 (manual) lapped the Nurburgring Nordschleife in 7:38.71."},
		{Source: "timing/accel/g87", Text: "Independent testing: 0-60 mph in 3.9s with the 8-speed automatic."},
	},
	"toyota-gr86": {
		{Source: "timing/accel/gr86", Text: "Independent testing: 0-60 mph in 6.1s, quarter mile 14.5s @ 99 mph."},
	},
	"mazda-mx5-nd": {
		{Source: "timing/accel/mx5-nd", Text: "Independent testing: 0-60 mph in 5.7s for the 2019+ 181 hp revision."},
	},
}

var maintenanceData = map[string][]excerpt{
	"mazda-mx5-nd": {
		{Source: "factory-schedule/mx5-nd", Text: "Oil and filter every 7,500 mi or 12 months; brake fluid every 2 years; spark plugs at 75,000 mi."},
	},
	"honda-civic-type-r-fl5": {
		{Source: "factory-schedule/fl5", Text: "Follow Maintenance Minder; severe-use (track) guidance is oil every 3,000 mi and brake fluid every 6 months."},
	},
	"bmw-m2-g87": {
		{Source: "factory-schedule/g87", Text: "Condition-based service; S58 oil interval capped at 10,000 mi, DCT/ZF fluid at 50,000 mi under track use."},
	},
}

var knowledgeBase = []excerpt{
	{Source: "kb/buying/sports-under-50k", Text: "Under $50k the strongest new sports-car value picks are the Toyota GR86, Mazda MX-5, and used FL5 Civic Type R depending on seating and drivetrain needs."},
	{Source: "kb/reliability/na-vs-turbo", Text: "Naturally aspirated engines generally carry lower heat and pressure loads than turbocharged ones, which correlates with fewer forced-induction-specific failure modes."},
	{Source: "kb/tuning/intake-gains", Text: "A drop-in panel filter on a modern NA engine typically yields 0-2 hp; measurable gains usually require tune-supported intake, exhaust, and fueling changes together."},
	{Source: "kb/legal/exhaust-noise", Text: "Exhaust noise limits vary by state; California enforces a 95 dbA limit under SAE J1492 testing for vehicles under 6,000 lbs GVWR."},
	{Source: "kb/legal/emissions-defeat", Text: "Removing or defeating emissions equipment on a road-registered vehicle violates the US Clean Air Act regardless of state inspection regimes."},
	{Source: "kb/track/brake-prep", Text: "Minimum track-day brake prep is high-temperature fluid and pads rated beyond 1,000F; stock street pads routinely fade within three laps."},
}

var listingsData = []struct {
	Model    string
	PriceUSD int64
	Note     string
}{
	{"toyota-gr86", 31500, "2023 Premium, 12k miles, one owner"},
	{"mazda-mx5-nd", 28900, "2022 Club, 18k miles, BBS/Brembo package"},
	{"honda-civic-type-r-fl5", 46800, "2023, 21k miles, clean history"},
	{"subaru-wrx-vb", 30200, "2022 Limited, 24k miles"},
	{"bmw-m2-g87", 62500, "2023, 9k miles, 6MT"},
}

func searchKnowledge(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	var in queryInput
	if err := json.Unmarshal(input, &in); err != nil || strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	terms := strings.Fields(strings.ToLower(in.Query))
	var hits []excerpt
	for _, ex := range knowledgeBase {
		body := strings.ToLower(ex.Source + " " + ex.Text)
		for _, t := range terms {
			if strings.Contains(body, t) {
				hits = append(hits, ex)
				break
			}
		}
	}
	return json.Marshal(map[string]any{"query": in.Query, "excerpts": hits})
}

func vehicleSpecs(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	slug, err := vehicleSlug(input)
	if err != nil {
		return nil, err
	}
	spec, ok := specData[slug]
	if !ok {
		return json.Marshal(map[string]any{"vehicle": slug, "found": false})
	}
	return json.Marshal(map[string]any{"vehicle": slug, "found": true, "specs": spec})
}

func reliabilityReports(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	return excerptLookup(input, reliabilityData)
}

func recallLookup(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	return excerptLookup(input, recallData)
}

func trackTimes(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	return excerptLookup(input, trackData)
}

func maintenanceSchedule(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	return excerptLookup(input, maintenanceData)
}

func marketListings(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	var in queryInput
	if err := json.Unmarshal(input, &in); err != nil || strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	q := strings.ToLower(in.Query)
	var out []map[string]any
	for _, l := range listingsData {
		if in.MaxPriceUSD > 0 && l.PriceUSD > in.MaxPriceUSD {
			continue
		}
		if !strings.Contains(l.Model, q) && !strings.Contains(q, strings.Split(l.Model, "-")[0]) {
			continue
		}
		out = append(out, map[string]any{"model": l.Model, "price_usd": l.PriceUSD, "note": l.Note})
	}
	return json.Marshal(map[string]any{"query": in.Query, "listings": out})
}

func webSearch(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	var in queryInput
	if err := json.Unmarshal(input, &in); err != nil || strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	// Stub backend. A production deployment points this at a search API;
	// the tool contract and plan gating stay the same.
	return json.Marshal(map[string]any{
		"query":   in.Query,
		"results": []excerpt{},
		"notice":  "web search backend is not configured in this deployment",
	})
}

func imageAnalysis(_ context.Context, input json.RawMessage, _ *CallContext) (json.RawMessage, error) {
	var in struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(input, &in); err != nil || strings.TrimSpace(in.ImageURL) == "" {
		return nil, fmt.Errorf("image_url is required")
	}
	return json.Marshal(map[string]any{
		"image_url": in.ImageURL,
		"notice":    "image analysis backend is not configured in this deployment",
	})
}

func vehicleSlug(input json.RawMessage) (string, error) {
	var in vehicleInput
	if err := json.Unmarshal(input, &in); err != nil || strings.TrimSpace(in.Vehicle) == "" {
		return "", fmt.Errorf("vehicle is required")
	}
	return strings.ToLower(strings.TrimSpace(in.Vehicle)), nil
}

func excerptLookup(input json.RawMessage, data map[string][]excerpt) (json.RawMessage, error) {
	slug, err := vehicleSlug(input)
	if err != nil {
		return nil, err
	}
	hits := data[slug]
	if hits == nil {
		hits = []excerpt{}
	}
	return json.Marshal(map[string]any{"vehicle": slug, "excerpts": hits})
}
