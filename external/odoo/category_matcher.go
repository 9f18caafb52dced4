package odoo

import (
	_ "embed"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/tahanlog/gastoflow/logger"
	"go.uber.org/zap"
)

//go:embed categories.json
var categoriesData []byte

type Category struct {
	OdooId   int      `json:"odoo_id"`
	Name     string   `json:"name"`
	Code     string   `json:"code"`
	Keywords []string `json:"keywords"`
}

type CategoryMatch struct {
	OdooId     int     `json:"odoo_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// CategoryMatcher resolves an expense description to an accounting
// category by keyword matching. Priority: exact match on an AI keyword,
// then exact match on the description, then partial overlap ranked by
// match count and confidence.
type CategoryMatcher struct {
	categories []Category
}

func NewCategoryMatcher() (*CategoryMatcher, error) {
	var categories []Category
	if err := json.Unmarshal(categoriesData, &categories); err != nil {
		return nil, err
	}
	logger.Info("expense categories loaded", zap.Int("count", len(categories)))
	return &CategoryMatcher{categories: categories}, nil
}

// Match returns nil when no category fits.
func (m *CategoryMatcher) Match(description string, aiKeywords []string) *CategoryMatch {
	normalizedDesc := strings.ToLower(strings.TrimSpace(description))
	if normalizedDesc == "" && len(aiKeywords) == 0 {
		return nil
	}

	// exact match against an AI keyword wins first
	for _, aiKeyword := range aiKeywords {
		normalized := strings.ToLower(strings.TrimSpace(aiKeyword))
		for _, category := range m.categories {
			if containsKeyword(category.Keywords, normalized) {
				return &CategoryMatch{OdooId: category.OdooId, Name: category.Name, Confidence: 0.95}
			}
		}
	}

	// exact match on the whole description
	for _, category := range m.categories {
		if containsKeyword(category.Keywords, normalizedDesc) {
			return &CategoryMatch{OdooId: category.OdooId, Name: category.Name, Confidence: 1.0}
		}
	}

	// partial overlap, ranked by match count then confidence
	searchTerms := []string{normalizedDesc}
	aiTerms := make(map[string]bool, len(aiKeywords))
	for _, kw := range aiKeywords {
		normalized := strings.ToLower(strings.TrimSpace(kw))
		searchTerms = append(searchTerms, normalized)
		aiTerms[normalized] = true
	}

	type partialMatch struct {
		CategoryMatch
		matchCount int
	}
	partials := make([]partialMatch, 0)
	for _, category := range m.categories {
		matchCount := 0
		aiKeywordHit := false
		for _, categoryKeyword := range category.Keywords {
			normalized := strings.ToLower(categoryKeyword)
			for _, term := range searchTerms {
				if term == "" {
					continue
				}
				if strings.Contains(term, normalized) || strings.Contains(normalized, term) {
					matchCount++
					if aiTerms[term] {
						aiKeywordHit = true
					}
					break
				}
			}
		}
		if matchCount > 0 {
			confidence := float64(matchCount) / float64(len(category.Keywords))
			if confidence > 1.0 {
				confidence = 1.0
			}
			// a hit on a keyword the AI extracted is worth more than
			// one inferred from free text
			if aiKeywordHit {
				confidence = math.Min(confidence*1.2, 0.9)
			}
			partials = append(partials, partialMatch{
				CategoryMatch: CategoryMatch{OdooId: category.OdooId, Name: category.Name, Confidence: confidence},
				matchCount:    matchCount,
			})
		}
	}
	if len(partials) == 0 {
		return nil
	}
	sort.SliceStable(partials, func(i, j int) bool {
		if partials[i].matchCount != partials[j].matchCount {
			return partials[i].matchCount > partials[j].matchCount
		}
		return partials[i].Confidence > partials[j].Confidence
	})
	best := partials[0].CategoryMatch
	return &best
}

func containsKeyword(keywords []string, term string) bool {
	if term == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.ToLower(kw) == term {
			return true
		}
	}
	return false
}
