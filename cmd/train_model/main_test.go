package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"inferserve/config"
	"inferserve/ml"
	"inferserve/resources"
	"inferserve/resources/resourcestest"
)

const trainingCSV = `id,age,color,score,label
1,25,red,0.1,no
2,60,green,0.2,no
3,35,red,0.3,no
4,,blue,0.35,no
5,40,blue,0.7,yes
6,30,,0.8,yes
7,50,green,0.9,yes
8,45,red,0.75,yes
`

func TestReadDataset(t *testing.T) {
	ds := resourcestest.Schema(t)
	data, err := readDataset(strings.NewReader(trainingCSV), ds)
	require.NoError(t, err)

	require.Len(t, data.instances, 8)
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, data.labels)
	assert.Equal(t, "4", data.instances[3].ID)
	assert.Nil(t, data.instances[3].Values["age"])
	assert.Nil(t, data.instances[5].Values["color"])
	assert.Equal(t, 0.7, data.instances[4].Values["score"])
	assert.Equal(t, "blue", data.instances[4].Values["color"])
}

func TestReadDatasetErrors(t *testing.T) {
	ds := resourcestest.Schema(t)
	tests := []struct {
		name string
		csv  string
	}{
		{"missing column", "id,age,color,label\n1,2,red,no\n"},
		{"unknown class", "id,age,color,score,label\n1,2,red,0.1,maybe\n"},
		{"bad number", "id,age,color,score,label\n1,old,red,0.1,no\n"},
		{"no rows", "id,age,color,score,label\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readDataset(strings.NewReader(tt.csv), ds)
			assert.Error(t, err)
		})
	}
}

func TestFitPreprocessor(t *testing.T) {
	ds := resourcestest.Schema(t)
	data, err := readDataset(strings.NewReader(trainingCSV), ds)
	require.NoError(t, err)

	pre, err := fitPreprocessor(ds, data.instances, true)
	require.NoError(t, err)

	age, ok := pre.NumericStat("age")
	require.True(t, ok)
	assert.Equal(t, ml.NumericStats{Min: 25, Max: 60, Fill: 40}, age)
	color, ok := pre.CategoricalStat("color")
	require.True(t, ok)
	assert.Equal(t, "red", color.Fill)
}

func TestLogFeatureRanges(t *testing.T) {
	ds := resourcestest.Schema(t)
	data, err := readDataset(strings.NewReader(trainingCSV), ds)
	require.NoError(t, err)
	pre, err := fitPreprocessor(ds, data.instances, true)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	logFeatureRanges(zap.New(core), pre)

	entries := logs.FilterMessage("numeric feature ranges").All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string][2]float64{"age": {25, 60}, "score": {0.1, 0.9}}, entries[0].ContextMap()["ranges"])

	core, logs = observer.New(zapcore.InfoLevel)
	logFeatureRanges(zap.New(core), ml.NewPreprocessor(false))
	assert.Equal(t, 0, logs.Len())
}

func TestSplitDataset(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}}
	labels := []int{0, 1, 0, 1, 0}

	trainX, trainY, testX, testY := splitDataset(features, labels, 0.4)
	assert.Len(t, trainX, 3)
	assert.Len(t, trainY, 3)
	assert.Equal(t, [][]float64{{4}, {5}}, testX)
	assert.Equal(t, []int{1, 0}, testY)
}

func TestTrainWritesLoadableArtifacts(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "input_schema.json")
	dataPath := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(schemaPath, []byte(resourcestest.SchemaJSON), 0o600))
	require.NoError(t, os.WriteFile(dataPath, []byte(trainingCSV), 0o600))

	for _, modelType := range []string{ml.TypeDecisionTree, ml.TypeLogisticRegression} {
		t.Run(modelType, func(t *testing.T) {
			out := filepath.Join(dir, modelType)
			opts := &options{
				schemaPath:   schemaPath,
				dataPath:     dataPath,
				outDir:       out,
				modelType:    modelType,
				maxDepth:     4,
				testRatio:    0.25,
				scale:        true,
				background:   4,
				seed:         7,
				maxExact:     10,
				permutations: 16,
			}
			require.NoError(t, train(opts, zap.NewNop()))

			cfg := config.Default().Model
			cfg.Dir = out
			b, err := resources.Load(cfg, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"no", "yes"}, b.Predictor.Classes())
			assert.NotNil(t, b.Preprocessor)
		})
	}
}
