package odoo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoryMatcher(t *testing.T) {
	matcher, err := NewCategoryMatcher()
	require.NoError(t, err)

	for scenario, fn := range map[string]func(t *testing.T){
		"ai keyword exact match wins first": func(t *testing.T) {
			match := matcher.Match("compra en local", []string{"peaje"})
			require.NotNil(t, match)
			require.Equal(t, 2, match.OdooId)
			require.Equal(t, 0.95, match.Confidence)
		},
		"description exact match": func(t *testing.T) {
			match := matcher.Match("hotel", nil)
			require.NotNil(t, match)
			require.Equal(t, 4, match.OdooId)
			require.Equal(t, 1.0, match.Confidence)
		},
		"partial overlap on description": func(t *testing.T) {
			match := matcher.Match("carga de combustible en ypf ruta 5", nil)
			require.NotNil(t, match)
			require.Equal(t, 1, match.OdooId)
			require.Less(t, match.Confidence, 1.0)
		},
		"ai keywords feed partial matching": func(t *testing.T) {
			match := matcher.Match("", []string{"almuerzo del conductor"})
			require.NotNil(t, match)
			require.Equal(t, 3, match.OdooId)
		},
		"ai keyword partial hit gets a confidence boost": func(t *testing.T) {
			fromText := matcher.Match("gasolina ypf", nil)
			require.NotNil(t, fromText)
			require.Equal(t, 1, fromText.OdooId)

			fromAi := matcher.Match("", []string{"gasolina ypf"})
			require.NotNil(t, fromAi)
			require.Equal(t, 1, fromAi.OdooId)
			require.Greater(t, fromAi.Confidence, fromText.Confidence)
			require.InDelta(t, fromText.Confidence*1.2, fromAi.Confidence, 1e-9)
			require.LessOrEqual(t, fromAi.Confidence, 0.9)
		},
		"no match returns nil": func(t *testing.T) {
			require.Nil(t, matcher.Match("zzzz", nil))
		},
		"empty input returns nil": func(t *testing.T) {
			require.Nil(t, matcher.Match("", nil))
			require.Nil(t, matcher.Match("   ", nil))
		},
	} {
		t.Run(scenario, fn)
	}
}
