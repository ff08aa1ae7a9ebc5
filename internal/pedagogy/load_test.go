package pedagogy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssessEmptyTextIsMinimumLoad(t *testing.T) {
	a := NewLoadAssessor(nil, 20)

	got := a.Assess("")
	assert.Equal(t, LoadAssessment{}, got)

	got = a.Assess("   \n\t ")
	assert.Equal(t, LoadAssessment{}, got)
}

func TestAssessCombinedWithinBounds(t *testing.T) {
	a := NewLoadAssessor([]string{"photosynthesis", "chloroplast"}, 20)

	texts := []string{
		"Photosynthesis converts light into chemical energy.",
		"Plants are green. They grow. They need water.",
		strings.Repeat("photosynthesis chloroplast mitochondria thylakoid ", 30),
	}
	for _, text := range texts {
		got := a.Assess(text)
		assert.GreaterOrEqual(t, got.Combined, 0.0)
		assert.LessOrEqual(t, got.Combined, 1.0)
		assert.GreaterOrEqual(t, got.Intrinsic, 0.0)
		assert.LessOrEqual(t, got.Extraneous, 1.0)
	}
}

func TestAssessTechnicalDensityRaisesIntrinsic(t *testing.T) {
	a := NewLoadAssessor([]string{"photosynthesis", "chloroplast", "thylakoid"}, 20)

	plain := a.Assess("Plants are green and they grow in the sun.")
	dense := a.Assess("Photosynthesis in the chloroplast thylakoid membrane.")

	assert.Greater(t, dense.Intrinsic, plain.Intrinsic)
}

func TestAssessLongSentencesRaiseExtraneous(t *testing.T) {
	a := NewLoadAssessor(nil, 10)

	short := a.Assess("Plants grow. They need light. Water helps too.")
	long := a.Assess("Plants grow over long periods of time because they continuously need light and also water and a number of further nutrients they take from the soil without interruption.")

	assert.Greater(t, long.Extraneous, short.Extraneous)
}

func TestAssessHTMLStructureRaisesExtraneous(t *testing.T) {
	a := NewLoadAssessor(nil, 20)

	flat := a.Assess("Plants need light and water to grow well.")
	structured := a.Assess("<h2>Growth</h2><ul><li>light</li><li>water</li></ul><h3>Soil</h3><ul><li>nutrients</li></ul>")

	assert.Greater(t, structured.Extraneous, flat.Extraneous)
}

func TestAssessWorkedExampleRaisesGermane(t *testing.T) {
	a := NewLoadAssessor(nil, 20)

	without := a.Assess("Quadratic equations have two roots.")
	with := a.Assess("Quadratic equations have two roots. For example, x^2-1=0 has roots 1 and -1.")

	assert.Greater(t, with.Germane, without.Germane)
	assert.True(t, HasWorkedExample("Örneğin, bu denklemin iki kökü vardır."))
	assert.False(t, HasWorkedExample("Quadratic equations have two roots."))
}
