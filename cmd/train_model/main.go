package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"inferserve/config"
	"inferserve/explain"
	"inferserve/ml"
	"inferserve/pipeline"
	"inferserve/schema"
)

type options struct {
	schemaPath   string
	dataPath     string
	outDir       string
	modelType    string
	maxDepth     int
	testRatio    float64
	scale        bool
	background   int
	seed         int64
	maxExact     int
	permutations int
}

func main() {
	opts := new(options)

	app := kingpin.New("train_model", "train a classifier and write serving artifacts")
	app.Flag("schema", "data schema JSON file").Required().StringVar(&opts.schemaPath)
	app.Flag("data", "training CSV file with a header row").Required().StringVar(&opts.dataPath)
	app.Flag("out", "artifact output directory").Default("model").StringVar(&opts.outDir)
	app.Flag("model-type", "decision_tree or logistic_regression").
		Default(ml.TypeDecisionTree).
		EnumVar(&opts.modelType, ml.TypeDecisionTree, ml.TypeLogisticRegression)
	app.Flag("max-depth", "max tree depth").Default("6").IntVar(&opts.maxDepth)
	app.Flag("test-ratio", "hold-out ratio").Default("0.2").Float64Var(&opts.testRatio)
	app.Flag("scale", "min-max scale numeric features").Default("true").BoolVar(&opts.scale)
	app.Flag("background", "explainer background sample size").Default("100").IntVar(&opts.background)
	app.Flag("seed", "random seed for shuffling and sampling").Default("42").Int64Var(&opts.seed)
	app.Flag("max-exact-features", "use exact Shapley values up to this many features").Default("10").IntVar(&opts.maxExact)
	app.Flag("permutations", "sampled permutations above the exact limit").Default("64").IntVar(&opts.permutations)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log, err := zap.NewDevelopment()
	if err != nil {
		kingpin.Fatalf("create logger: %v", err)
	}
	defer log.Sync() //nolint: errcheck

	if err := train(opts, log); err != nil {
		log.Fatal("training failed", zap.Error(err))
	}
}

// dataset 训练数据：实例与目标类别下标
type dataset struct {
	instances []schema.Instance
	labels    []int
}

func train(opts *options, log *zap.Logger) error {
	raw, err := os.ReadFile(opts.schemaPath)
	if err != nil {
		return errors.Wrap(err, "read schema")
	}
	ds, err := schema.Parse(raw)
	if err != nil {
		return err
	}

	file, err := os.Open(opts.dataPath)
	if err != nil {
		return errors.Wrap(err, "open training data")
	}
	defer file.Close()
	data, err := readDataset(file, ds)
	if err != nil {
		return err
	}
	log.Info("training data loaded", zap.Int("rows", len(data.instances)))

	pre, err := fitPreprocessor(ds, data.instances, opts.scale)
	if err != nil {
		return err
	}
	logFeatureRanges(log, pre)

	transformer := pipeline.NewTransformer(ds, pre)
	features := make([][]float64, 0, len(data.instances))
	labels := make([]int, 0, len(data.instances))
	for i, inst := range data.instances {
		row, err := transformer.EncodeInstance(inst)
		if err != nil {
			log.Warn("skipping row", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		features = append(features, row)
		labels = append(labels, data.labels[i])
	}
	if len(features) == 0 {
		return errors.New("no usable training rows")
	}

	rng := rand.New(rand.NewSource(opts.seed))
	shuffle(rng, features, labels)
	trainX, trainY, testX, testY := splitDataset(features, labels, opts.testRatio)

	model, err := ml.NewModel(opts.modelType, ds.TargetClasses(), ds.FeatureNames(), opts.maxDepth)
	if err != nil {
		return err
	}
	if err := model.Train(trainX, trainY); err != nil {
		return errors.Wrap(err, "train model")
	}
	accuracy, err := evaluateModel(model, testX, testY)
	if err != nil {
		return err
	}
	log.Info("model trained",
		zap.String("type", opts.modelType),
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)),
		zap.Float64("accuracy", accuracy),
	)

	settings := explain.DefaultSettings()
	settings.Background = sampleRows(rng, trainX, opts.background)
	settings.Seed = opts.seed
	settings.MaxExactFeatures = opts.maxExact
	settings.Permutations = opts.permutations

	cfg := config.Default().Model
	cfg.Dir = opts.outDir
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.SchemaPath(), raw, 0o600); err != nil {
		return errors.Wrap(err, "write schema")
	}
	if err := pre.Save(cfg.PreprocessorPath()); err != nil {
		return errors.Wrap(err, "write preprocessor")
	}
	if err := model.Save(cfg.ModelPath()); err != nil {
		return errors.Wrap(err, "write model")
	}
	if err := settings.Save(cfg.ExplainerPath()); err != nil {
		return errors.Wrap(err, "write explainer")
	}
	log.Info("artifacts written", zap.String("dir", cfg.Dir))
	return nil
}

// readDataset 读取带表头的CSV，空字符串视为缺失值
func readDataset(r io.Reader, ds *schema.DataSchema) (*dataset, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range append([]string{ds.ID.Name, ds.Target.Name}, ds.FeatureNames()...) {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("training data has no column %q", name)
		}
	}
	classIndex := make(map[string]int, len(ds.Target.Classes))
	for i, c := range ds.Target.Classes {
		classIndex[c] = i
	}

	data := &dataset{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}

		label, ok := classIndex[strings.TrimSpace(record[columns[ds.Target.Name]])]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown target class %q", line, record[columns[ds.Target.Name]])
		}
		inst := schema.Instance{
			ID:     record[columns[ds.ID.Name]],
			Values: make(map[string]interface{}, len(ds.Features)),
		}
		for _, f := range ds.Features {
			cell := strings.TrimSpace(record[columns[f.Name]])
			if cell == "" {
				inst.Values[f.Name] = nil
				continue
			}
			if f.DataType == schema.Categorical {
				inst.Values[f.Name] = cell
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: feature %s: %q is not a number", line, f.Name, cell)
			}
			inst.Values[f.Name] = v
		}
		data.instances = append(data.instances, inst)
		data.labels = append(data.labels, label)
	}
	if len(data.instances) == 0 {
		return nil, errors.New("training data has no rows")
	}
	return data, nil
}

// fitPreprocessor 由观测到的非缺失值计算填充与缩放统计
func fitPreprocessor(ds *schema.DataSchema, instances []schema.Instance, scale bool) (*ml.Preprocessor, error) {
	pre := ml.NewPreprocessor(scale)
	for _, f := range ds.Features {
		if f.DataType == schema.Categorical {
			var values []string
			for _, inst := range instances {
				if v, ok := inst.Values[f.Name].(string); ok {
					values = append(values, v)
				}
			}
			if len(values) == 0 {
				continue
			}
			if err := pre.ComputeCategorical(f.Name, values); err != nil {
				return nil, err
			}
			continue
		}
		var values []float64
		for _, inst := range instances {
			if v, ok := inst.Values[f.Name].(float64); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		if err := pre.ComputeNumeric(f.Name, values); err != nil {
			return nil, err
		}
	}
	return pre, nil
}

// logFeatureRanges 输出拟合得到的数值特征范围
func logFeatureRanges(log *zap.Logger, pre *ml.Preprocessor) {
	ranges := pre.FeatureStats()
	if len(ranges) == 0 {
		return
	}
	log.Info("numeric feature ranges", zap.Bool("scale", pre.Scale), zap.Any("ranges", ranges))
}

func shuffle(rng *rand.Rand, features [][]float64, labels []int) {
	rng.Shuffle(len(features), func(i, j int) {
		features[i], features[j] = features[j], features[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
}

func splitDataset(features [][]float64, labels []int, testRatio float64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio < 0 || testRatio >= 1 {
		testRatio = 0.2
	}

	split := int(float64(len(features)) * (1 - testRatio))
	if split < 1 {
		split = 1
	}
	for i := range features {
		if i < split {
			trainX = append(trainX, features[i])
			trainY = append(trainY, labels[i])
		} else {
			testX = append(testX, features[i])
			testY = append(testY, labels[i])
		}
	}
	return trainX, trainY, testX, testY
}

func evaluateModel(model ml.Classifier, testX [][]float64, testY []int) (float64, error) {
	if len(testX) == 0 {
		return 0, nil
	}
	probs, err := model.PredictProba(testX)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, p := range probs {
		if ml.Argmax(p) == testY[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(testX)), nil
}

// sampleRows 无放回抽取至多n行作为解释器背景样本
func sampleRows(rng *rand.Rand, rows [][]float64, n int) [][]float64 {
	if n <= 0 || n >= len(rows) {
		return append([][]float64(nil), rows...)
	}
	out := make([][]float64, n)
	for i, j := range rng.Perm(len(rows))[:n] {
		out[i] = rows[j]
	}
	return out
}
