package matching

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/normalize"
)

// maxPartialNameScore caps every non-exact name score. The 95-100 band
// is reserved for exact-after-normalization matches so downstream
// thresholds can distinguish "certain" from "likely".
const maxPartialNameScore = 94

// Combined-score weighting: name similarity is the primary signal,
// address similarity corroborates it.
const (
	nameWeight    = 0.7
	addressWeight = 0.3
)

// Score holds the independent and combined confidences for one
// (target, candidate) pair, each on a 0-100 scale.
type Score struct {
	NameConfidence    int `json:"name_confidence"`
	AddressConfidence int `json:"address_confidence"`
	Combined          int `json:"confidence_score"`
}

// Scorer computes confidence scores against a fixed normalizer
// snapshot. Score is a pure function of its inputs.
type Scorer struct {
	normalizer *normalize.Normalizer
}

// NewScorer creates a Scorer over the given rule snapshot.
func NewScorer(n *normalize.Normalizer) *Scorer {
	return &Scorer{normalizer: n}
}

// Score computes name, address, and combined confidence for a pair.
func (s *Scorer) Score(target *models.TargetInstitution, candidate *models.DeviceRecord) Score {
	name := s.nameConfidence(target.InstitutionName, candidate.InstallationInstitution)

	targetRegion := normalize.Fold(strings.TrimSpace(target.Sido + " " + target.Gugun))
	addr := addressConfidence(targetRegion, normalize.Fold(candidate.InstallationAddress))

	combined := int(math.Round(nameWeight*float64(name) + addressWeight*float64(addr)))
	return Score{NameConfidence: name, AddressConfidence: addr, Combined: combined}
}

// NormalizedKey exposes the canonical form of a name under the scorer's
// rule snapshot.
func (s *Scorer) NormalizedKey(raw string) string {
	return s.normalizer.Key(raw)
}

func (s *Scorer) nameConfidence(targetName, candidateName string) int {
	a := s.normalizer.Key(targetName)
	b := s.normalizer.Key(candidateName)

	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	// Partial score: the better of edit-distance similarity and
	// Jaro-Winkler, scaled into the 0-94 band.
	lev := levenshteinSimilarity(a, b)
	jw := smetrics.JaroWinkler(a, b, 0.7, 4)
	sim := math.Max(lev, jw)

	return int(math.Round(sim * maxPartialNameScore))
}

func levenshteinSimilarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// addressConfidence is a weighted token-overlap score. Administrative
// unit tokens (시/도/군/구/읍/면/동 suffixes) weigh double: target and
// device sources routinely disagree on street-level detail but agree on
// the administrative unit.
func addressConfidence(a, b string) int {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var intersection, union float64
	for tok := range tokensA {
		w := tokenWeight(tok)
		union += w
		if tokensB[tok] {
			intersection += w
		}
	}
	for tok := range tokensB {
		if !tokensA[tok] {
			union += tokenWeight(tok)
		}
	}

	return int(math.Round(100 * intersection / union))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

var adminUnitSuffixes = []rune{'시', '도', '군', '구', '읍', '면', '동'}

func tokenWeight(tok string) float64 {
	runes := []rune(tok)
	if len(runes) < 2 {
		return 1
	}
	last := runes[len(runes)-1]
	for _, suffix := range adminUnitSuffixes {
		if last == suffix {
			return 2
		}
	}
	return 1
}

// Better reports whether candidate a beats candidate b under the
// deterministic ordering: combined score first, then name confidence,
// then the lexicographically smallest equipment serial. Never random.
func Better(a Score, aSerial string, b Score, bSerial string) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	if a.NameConfidence != b.NameConfidence {
		return a.NameConfidence > b.NameConfidence
	}
	return aSerial < bSerial
}
