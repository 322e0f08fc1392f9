package explain

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"math/rand"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const maxBatchRows = 4096

// Shapley 不保存单次调用的状态，可并发使用
type Shapley struct {
	settings Settings
	width    int
	workers  int
}

func NewShapley(settings Settings, workers int) (*Shapley, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	if settings.CacheSize <= 0 {
		settings.CacheSize = DefaultSettings().CacheSize
	}
	if workers <= 0 {
		workers = 1
	}
	return &Shapley{
		settings: settings,
		width:    len(settings.Background[0]),
		workers:  workers,
	}, nil
}

func (s *Shapley) Method() string { return s.settings.Method }

// Width 背景样本的特征列数
func (s *Shapley) Width() int { return s.width }

func (s *Shapley) Explain(ctx context.Context, rows [][]float64, predict PredictFunc, classNames []string) ([]Attribution, error) {
	if len(classNames) == 0 {
		return nil, fmt.Errorf("no class names given")
	}
	for i, row := range rows {
		if len(row) != s.width {
			return nil, fmt.Errorf("row %d has %d columns, explainer expects %d", i, len(row), s.width)
		}
	}

	out := make([]Attribution, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range rows {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("explaining row %d panicked: %v", i, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			attr, err := s.explainRow(rows[i], predict, len(classNames))
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			out[i] = attr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Shapley) explainRow(row []float64, predict PredictFunc, classCount int) (Attribution, error) {
	n := s.width
	phi := make([][]float64, classCount)
	for c := range phi {
		phi[c] = make([]float64, n)
	}

	var (
		baseline []float64
		err      error
	)
	if n <= s.settings.MaxExactFeatures {
		baseline, err = s.exact(row, predict, classCount, phi)
	} else {
		baseline, err = s.sampled(row, predict, classCount, phi)
	}
	if err != nil {
		return Attribution{}, err
	}
	return Attribution{Baseline: baseline, Values: phi}, nil
}

// exact 枚举全部2^n个联盟
func (s *Shapley) exact(row []float64, predict PredictFunc, classCount int, phi [][]float64) ([]float64, error) {
	n := s.width
	total := uint64(1) << n
	masks := make([]uint64, total)
	for m := range masks {
		masks[m] = uint64(m)
	}
	values, err := s.evaluate(row, masks, predict, classCount)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, n)
	for size := 0; size < n; size++ {
		weights[size] = math.Exp(lgamma(size+1) + lgamma(n-size) - lgamma(n+1))
	}
	for mask := uint64(0); mask < total; mask++ {
		size := bits.OnesCount64(mask)
		for j := 0; j < n; j++ {
			bit := uint64(1) << j
			if mask&bit != 0 {
				continue
			}
			with, without := values[mask|bit], values[mask]
			for c := 0; c < classCount; c++ {
				phi[c][j] += weights[size] * (with[c] - without[c])
			}
		}
	}
	return values[0], nil
}

// sampled 对带种子的随机排列求边际贡献均值。
// 种子混入行的哈希，同一样本无论在请求中的位置如何，归因结果都相同
func (s *Shapley) sampled(row []float64, predict PredictFunc, classCount int, phi [][]float64) ([]float64, error) {
	n := s.width
	cache, err := lru.New[uint64, []float64](s.settings.CacheSize)
	if err != nil {
		return nil, err
	}
	value := func(mask uint64) ([]float64, error) {
		if v, ok := cache.Get(mask); ok {
			return v, nil
		}
		vals, err := s.evaluate(row, []uint64{mask}, predict, classCount)
		if err != nil {
			return nil, err
		}
		cache.Add(mask, vals[0])
		return vals[0], nil
	}

	rng := rand.New(rand.NewSource(s.settings.Seed ^ int64(hashRow(row))))
	baseline, err := value(0)
	if err != nil {
		return nil, err
	}
	for p := 0; p < s.settings.Permutations; p++ {
		mask := uint64(0)
		prev := baseline
		for _, j := range rng.Perm(n) {
			mask |= uint64(1) << j
			cur, err := value(mask)
			if err != nil {
				return nil, err
			}
			for c := 0; c < classCount; c++ {
				phi[c][j] += cur[c] - prev[c]
			}
			prev = cur
		}
	}
	scale := 1 / float64(s.settings.Permutations)
	for c := range phi {
		for j := range phi[c] {
			phi[c][j] *= scale
		}
	}
	return baseline, nil
}

// evaluate 对每个掩码，掩码内特征取自row，返回在背景样本上平均后的类别概率
func (s *Shapley) evaluate(row []float64, masks []uint64, predict PredictFunc, classCount int) ([][]float64, error) {
	background := s.settings.Background
	perMask := len(background)
	masksPerBatch := maxBatchRows / perMask
	if masksPerBatch < 1 {
		masksPerBatch = 1
	}

	out := make([][]float64, len(masks))
	for start := 0; start < len(masks); start += masksPerBatch {
		end := start + masksPerBatch
		if end > len(masks) {
			end = len(masks)
		}
		batch := make([][]float64, 0, (end-start)*perMask)
		for _, mask := range masks[start:end] {
			for _, b := range background {
				z := make([]float64, len(row))
				for j := range z {
					if mask&(uint64(1)<<j) != 0 {
						z[j] = row[j]
					} else {
						z[j] = b[j]
					}
				}
				batch = append(batch, z)
			}
		}

		probs, err := predict(batch)
		if err != nil {
			return nil, err
		}
		if len(probs) != len(batch) {
			return nil, fmt.Errorf("predictor returned %d rows for %d inputs", len(probs), len(batch))
		}
		for k := range masks[start:end] {
			mean := make([]float64, classCount)
			for _, p := range probs[k*perMask : (k+1)*perMask] {
				if len(p) != classCount {
					return nil, fmt.Errorf("predictor returned %d classes, expected %d", len(p), classCount)
				}
				for c, v := range p {
					mean[c] += v
				}
			}
			for c := range mean {
				mean[c] /= float64(perMask)
			}
			out[start+k] = mean
		}
	}
	return out, nil
}

func hashRow(row []float64) uint64 {
	buf := make([]byte, 0, 8*len(row))
	for _, v := range row {
		word := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(word>>(8*i)))
		}
	}
	return xxhash.Sum64(buf)
}

func lgamma(n int) float64 {
	v, _ := math.Lgamma(float64(n))
	return v
}

