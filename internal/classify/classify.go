// Package classify routes forecasting questions to domains by keyword
// pattern matching. Classification is deterministic and cheap: no model
// call is spent before the panel is even assembled.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/solstice-ai/delphi/internal/model"
)

// Domain identifiers in the routing taxonomy.
const (
	DomainMilitary     = "military"
	DomainFinancial    = "financial"
	DomainEnergy       = "energy"
	DomainTechnology   = "technology"
	DomainClimate      = "climate"
	DomainGeopolitical = "geopolitical"
	DomainLogistics    = "logistics"
	DomainSocietal     = "societal"
	DomainHealth       = "health"
	DomainIntelligence = "intelligence"
)

// Domains lists every recognized domain.
var Domains = []string{
	DomainMilitary, DomainFinancial, DomainEnergy, DomainTechnology,
	DomainClimate, DomainGeopolitical, DomainLogistics, DomainSocietal,
	DomainHealth, DomainIntelligence,
}

// domainPatterns maps each domain to its keyword patterns. Matching is
// case-insensitive via lowercasing the question, so the patterns stay
// lowercase. A keyword may appear under more than one domain (carbon,
// migration, semiconductor); ties resolve by match count.
var domainPatterns = map[string][]*regexp.Regexp{
	DomainMilitary: {
		regexp.MustCompile(`\b(military|troop|deployment|weapon|missile|naval|airforce|army|defense|combat|war|conflict|strategic|tactical)\b`),
		regexp.MustCompile(`\b(nato|pentagon|defense minister|battalion|carrier group|aircraft|fighter jet)\b`),
	},
	DomainFinancial: {
		regexp.MustCompile(`\b(market|stock|bond|currency|forex|gdp|inflation|interest rate|fed|central bank|dollar|euro)\b`),
		regexp.MustCompile(`\b(s&p|dow|nasdaq|wall street|investor|trading|volatility|recession|bull market|bear market)\b`),
	},
	DomainEnergy: {
		regexp.MustCompile(`\b(oil|gas|petroleum|opec|energy|barrel|crude|natural gas|renewable|solar|wind|nuclear)\b`),
		regexp.MustCompile(`\b(pipeline|refinery|lng|power grid|electricity|coal|uranium|carbon)\b`),
	},
	DomainTechnology: {
		regexp.MustCompile(`\b(cyber|hack|malware|ransomware|ai|artificial intelligence|semiconductor|chip|tech|software)\b`),
		regexp.MustCompile(`\b(data breach|vulnerability|zero-day|encryption|quantum|5g|cloud|infrastructure)\b`),
	},
	DomainClimate: {
		regexp.MustCompile(`\b(climate|weather|hurricane|flood|drought|temperature|carbon|emissions|renewable)\b`),
		regexp.MustCompile(`\b(ipcc|paris agreement|cop\d+|green|sustainability|environmental)\b`),
	},
	DomainGeopolitical: {
		regexp.MustCompile(`\b(diplomatic|treaty|alliance|sanction|embargo|un|security council|ambassador)\b`),
		regexp.MustCompile(`\b(sovereignty|territorial|border|refugee|migration|humanitarian)\b`),
	},
	DomainLogistics: {
		regexp.MustCompile(`\b(supply chain|shipping|container|port|freight|cargo|transportation|bottleneck)\b`),
		regexp.MustCompile(`\b(semiconductor shortage|just-in-time|inventory|logistics|distribution)\b`),
	},
	DomainSocietal: {
		regexp.MustCompile(`\b(protest|riot|civil unrest|demonstration|strike|inequality|poverty|unemployment)\b`),
		regexp.MustCompile(`\b(social movement|populism|polarization|demographic|migration)\b`),
	},
	DomainHealth: {
		regexp.MustCompile(`\b(pandemic|virus|vaccine|outbreak|epidemic|who|health|hospital|disease|covid)\b`),
		regexp.MustCompile(`\b(biosecurity|bioweapon|quarantine|mortality|infection rate)\b`),
	},
	DomainIntelligence: {
		regexp.MustCompile(`\b(intelligence|spy|espionage|osint|surveillance|reconnaissance|classified)\b`),
		regexp.MustCompile(`\b(cia|fbi|nsa|mi6|mossad|signal intelligence|humint)\b`),
	},
}

// fallbackDomain is assigned when no pattern matches: general questions
// default to geopolitical at low confidence.
const (
	fallbackDomain     = DomainGeopolitical
	fallbackConfidence = 0.3

	secondaryFraction = 0.2 // secondary domains need >= 20% of the primary's matches
	maxSecondary      = 2
)

// Classifier assigns questions to domains.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier { return &Classifier{} }

// Classify scores the question against every domain's patterns. The domain
// with the most matches wins; confidence is its share of all matches.
func (*Classifier) Classify(question string) model.DomainClassification {
	lower := strings.ToLower(question)

	counts := make(map[string]int)
	total := 0
	for domain, patterns := range domainPatterns {
		for _, p := range patterns {
			n := len(p.FindAllString(lower, -1))
			counts[domain] += n
			total += n
		}
	}

	if total == 0 {
		return model.DomainClassification{
			Primary:    fallbackDomain,
			Confidence: fallbackConfidence,
		}
	}

	scored := make([]model.DomainScore, 0, len(counts))
	for domain, n := range counts {
		if n > 0 {
			scored = append(scored, model.DomainScore{Domain: domain, Confidence: float64(n) / float64(total)})
		}
	}
	// Ties break alphabetically so classification is deterministic.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].Domain < scored[j].Domain
	})

	primary := scored[0]
	threshold := primary.Confidence * secondaryFraction

	var secondary []model.DomainScore
	for _, s := range scored[1:] {
		if s.Confidence < threshold {
			continue
		}
		secondary = append(secondary, s)
		if len(secondary) == maxSecondary {
			break
		}
	}

	return model.DomainClassification{
		Primary:    primary.Domain,
		Confidence: primary.Confidence,
		Secondary:  secondary,
	}
}

// Known reports whether the given domain is part of the taxonomy.
func Known(domain string) bool {
	_, ok := domainPatterns[domain]
	return ok
}
