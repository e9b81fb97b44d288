package model

import "strings"

// OLQ is one of the 15 Officer-Like Qualities assessed at the SSB.
// Values are the upper-case identifiers the scoring prompts ask the LLM to use.
type OLQ string

const (
	// Factor I: planning and organising.
	EffectiveIntelligence OLQ = "EFFECTIVE_INTELLIGENCE"
	ReasoningAbility      OLQ = "REASONING_ABILITY"
	OrganizingAbility     OLQ = "ORGANIZING_ABILITY"
	PowerOfExpression     OLQ = "POWER_OF_EXPRESSION"

	// Factor II: social adjustment.
	SocialAdjustment      OLQ = "SOCIAL_ADJUSTMENT"
	Cooperation           OLQ = "COOPERATION"
	SenseOfResponsibility OLQ = "SENSE_OF_RESPONSIBILITY"

	// Factor III: social effectiveness.
	Initiative      OLQ = "INITIATIVE"
	SelfConfidence  OLQ = "SELF_CONFIDENCE"
	SpeedOfDecision OLQ = "SPEED_OF_DECISION"
	InfluenceGroup  OLQ = "INFLUENCE_GROUP"
	Liveliness      OLQ = "LIVELINESS"

	// Factor IV: dynamic.
	Determination OLQ = "DETERMINATION"
	Courage       OLQ = "COURAGE"
	Stamina       OLQ = "STAMINA"
)

// OLQCategory groups OLQs into the four SSB factors.
type OLQCategory string

const (
	CategoryIntellectual OLQCategory = "INTELLECTUAL"
	CategorySocial       OLQCategory = "SOCIAL"
	CategoryDynamic      OLQCategory = "DYNAMIC"
	CategoryCharacter    OLQCategory = "CHARACTER"
)

type olqInfo struct {
	name     string
	category OLQCategory
	critical bool
}

// allOLQs keeps catalogue order; ties in result ranking fall back to it.
var allOLQs = []OLQ{
	EffectiveIntelligence, ReasoningAbility, OrganizingAbility, PowerOfExpression,
	SocialAdjustment, Cooperation, SenseOfResponsibility,
	Initiative, SelfConfidence, SpeedOfDecision, InfluenceGroup, Liveliness,
	Determination, Courage, Stamina,
}

var olqCatalogue = map[OLQ]olqInfo{
	EffectiveIntelligence: {"Effective Intelligence", CategoryIntellectual, false},
	ReasoningAbility:      {"Reasoning Ability", CategoryIntellectual, true},
	OrganizingAbility:     {"Organizing Ability", CategoryIntellectual, false},
	PowerOfExpression:     {"Power of Expression", CategoryIntellectual, false},
	SocialAdjustment:      {"Social Adjustment", CategorySocial, true},
	Cooperation:           {"Cooperation", CategorySocial, true},
	SenseOfResponsibility: {"Sense of Responsibility", CategorySocial, true},
	Initiative:            {"Initiative", CategoryDynamic, false},
	SelfConfidence:        {"Self Confidence", CategoryDynamic, false},
	SpeedOfDecision:       {"Speed of Decision", CategoryDynamic, false},
	InfluenceGroup:        {"Ability to Influence Group", CategoryDynamic, false},
	Liveliness:            {"Liveliness", CategoryDynamic, true},
	Determination:         {"Determination", CategoryCharacter, false},
	Courage:               {"Courage", CategoryCharacter, true},
	Stamina:               {"Stamina", CategoryCharacter, false},
}

var categoryInfo = map[OLQCategory]struct {
	name       string
	factor     int
	factorName string
}{
	CategoryIntellectual: {"Intellectual Qualities", 1, "Planning & Organizing"},
	CategorySocial:       {"Social Qualities", 2, "Social Adjustment"},
	CategoryDynamic:      {"Dynamic Qualities", 3, "Social Effectiveness"},
	CategoryCharacter:    {"Character & Physical Qualities", 4, "Dynamic"},
}

// AllOLQs returns the 15 qualities in catalogue order.
func AllOLQs() []OLQ {
	out := make([]OLQ, len(allOLQs))
	copy(out, allOLQs)
	return out
}

// AllCategories returns the four categories in SSB factor order.
func AllCategories() []OLQCategory {
	return []OLQCategory{CategoryIntellectual, CategorySocial, CategoryDynamic, CategoryCharacter}
}

// Valid reports whether o is part of the catalogue.
func (o OLQ) Valid() bool {
	_, ok := olqCatalogue[o]
	return ok
}

// DisplayName returns the human-readable name, or the raw value for unknown OLQs.
func (o OLQ) DisplayName() string {
	if info, ok := olqCatalogue[o]; ok {
		return info.name
	}
	return string(o)
}

// Category returns the SSB factor the quality belongs to.
func (o OLQ) Category() OLQCategory {
	return olqCatalogue[o].category
}

// IsCritical reports whether a limitation (score >= 8) in this quality is disqualifying on its own.
func (o OLQ) IsCritical() bool {
	return olqCatalogue[o].critical
}

// ParseOLQ matches either the identifier or the display name, ignoring case.
func ParseOLQ(s string) (OLQ, bool) {
	s = strings.TrimSpace(s)
	for _, o := range allOLQs {
		if strings.EqualFold(string(o), s) || strings.EqualFold(olqCatalogue[o].name, s) {
			return o, true
		}
	}
	return "", false
}

// OLQsByCategory returns the qualities of one category in catalogue order.
func OLQsByCategory(c OLQCategory) []OLQ {
	var out []OLQ
	for _, o := range allOLQs {
		if olqCatalogue[o].category == c {
			out = append(out, o)
		}
	}
	return out
}

// DisplayName returns the category's human-readable name.
func (c OLQCategory) DisplayName() string {
	return categoryInfo[c].name
}

// FactorNumber returns the SSB factor number (1-4), or 0 for unknown categories.
func (c OLQCategory) FactorNumber() int {
	return categoryInfo[c].factor
}

// FactorName returns the official SSB factor name.
func (c OLQCategory) FactorName() string {
	return categoryInfo[c].factorName
}
