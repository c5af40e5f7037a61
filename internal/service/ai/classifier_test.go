package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/config"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/service/classify"
)

func TestPredictKeepsDistribution(t *testing.T) {
	label, conf := predict([]float64{0.1, 0.7, 0.05, 0.15}, Labels)
	assert.Equal(t, model.ClassCrystals, label)
	assert.InDelta(t, 0.7, conf[model.ClassCrystals], 1e-9)
	assert.Len(t, conf, 4)
}

func TestPredictAppliesSoftmaxToLogits(t *testing.T) {
	label, conf := predict([]float64{-1, 0.5, 2, 3.5}, Labels)
	assert.Equal(t, model.ClassPrecipitate, label)

	sum := 0.0
	for _, v := range conf {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, conf[model.ClassOther], conf[model.ClassCrystals])
}

func TestMissingModelFailsCalls(t *testing.T) {
	c := NewMarcoClassifier(&config.Config{ModelPath: t.TempDir() + "/missing.pb"}, logger.NewDiscard())
	assert.False(t, c.Ready())

	_, _, err := c.Classify(context.Background(), classify.ImageRef{Data: []byte{1}})
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.NoError(t, c.Close())
}
