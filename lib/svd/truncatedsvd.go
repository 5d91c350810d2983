package svd

import (
	"fmt"
	"math"
	"sort"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/settings"
	"gonum.org/v1/gonum/mat"
)

// A Handle identifies the worker resource a model runs on.
// Device is the accelerator index on that worker; on this cpu build it is
// only used to tell models apart in logs and results.
type Handle struct {
	Worker string
	Device int
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%d", h.Worker, h.Device)
}

// TruncatedSVD, inspired by sklearn's class of the same
// name.
// SVD factors a matrix A as USV^T where S is a diagonal
// matrix of singular values.
// TruncatedSVD truncates the result to the top k singular
// values.
// The factorization goes through the gram matrix A^T A so that row blocks
// of A can be reduced on different workers and summed: the right singular
// vectors of A are the eigenvectors of A^T A and the singular values are the
// square roots of its eigenvalues.
type TruncatedSVD struct {
	// Components is the truncated V^T of size k x n where n
	// is the number of columns in the training data.
	Components *mat.Dense

	// The top k singular values, largest first.
	SingularValues []float64

	// Variance of each column of the transformed training data.
	ExplainedVariance []float64

	// ExplainedVariance divided by the total variance of the training data.
	ExplainedVarianceRatio []float64

	// The number of dimensions to truncate to.
	K int

	Solver string
	Dtype  string
	Handle Handle
}

func New(handle Handle, dtype string, config settings.TsvdSettings) (*TruncatedSVD, error) {
	if config.NComponents < 1 {
		return nil, fmt.Errorf("n_components must be at least 1 but is %d", config.NComponents)
	}
	if config.SvdSolver != "" && config.SvdSolver != settings.SOLVER_FULL {
		return nil, fmt.Errorf("unsupported svd_solver %q", config.SvdSolver)
	}
	if dtype == "" {
		dtype = settings.DTYPE_FLOAT64
	}
	if dtype != settings.DTYPE_FLOAT64 && dtype != settings.DTYPE_FLOAT32 {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	return &TruncatedSVD{
		K:      config.NComponents,
		Solver: settings.SOLVER_FULL,
		Dtype:  dtype,
		Handle: handle,
	}, nil
}

func (t *TruncatedSVD) Fitted() bool {
	return t.Components != nil && !t.Components.IsEmpty()
}

// PartialFit computes the contribution of one row block to the fit: its
// gram matrix and its column statistics.
func (t *TruncatedSVD) PartialFit(m mat.Matrix) (*mat.SymDense, *datatypes.ColumnStats, error) {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, nil, fmt.Errorf("cannot fit an empty partition")
	}
	var gram mat.SymDense
	gram.SymOuterK(1, m.T())
	return &gram, datatypes.NewColumnStats(m), nil
}

// FitFromGram factorizes the (summed) gram matrix and keeps the top k
// eigenvectors as components.
func (t *TruncatedSVD) FitFromGram(gram *mat.SymDense) error {
	if gram == nil || gram.IsEmpty() {
		return fmt.Errorf("cannot fit from an empty gram matrix")
	}
	n := gram.SymmetricDim()
	if t.K > n {
		return fmt.Errorf("n_components is %d but the input only has %d columns", t.K, n)
	}

	var eigen mat.EigenSym
	if ok := eigen.Factorize(gram, true); !ok {
		return fmt.Errorf("Failed to find eigen decomposition of gram matrix")
	}
	values := eigen.Values(nil)
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	// EigenSym returns ascending eigenvalues.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	components := mat.NewDense(t.K, n, nil)
	singulars := make([]float64, t.K)
	for i := 0; i < t.K; i++ {
		col := order[i]
		for j := 0; j < n; j++ {
			components.Set(i, j, vectors.At(j, col))
		}
		v := values[col]
		// Rank-deficient inputs give eigenvalues that are zero up to rounding.
		if v < 0 {
			v = 0
		}
		singulars[i] = math.Sqrt(v)
	}
	flipSigns(components)

	t.Components = t.round(components)
	t.SingularValues = t.roundSlice(singulars)
	t.ExplainedVariance = nil
	t.ExplainedVarianceRatio = nil
	return nil
}

// flipSigns makes the largest-magnitude entry of every component positive,
// so that the result does not depend on the eigen solver's sign choice.
func flipSigns(components *mat.Dense) {
	r, c := components.Dims()
	for i := 0; i < r; i++ {
		row := components.RawRowView(i)
		maxIndex := 0
		for j := 1; j < c; j++ {
			if math.Abs(row[j]) > math.Abs(row[maxIndex]) {
				maxIndex = j
			}
		}
		if row[maxIndex] < 0 {
			for j := range row {
				row[j] = -row[j]
			}
		}
	}
}

// SetExplainedVariance finishes a fit once the training data has been
// transformed: transformed holds the column statistics of the output,
// input those of the training data.
func (t *TruncatedSVD) SetExplainedVariance(transformed *datatypes.ColumnStats, input *datatypes.ColumnStats) error {
	if transformed == nil || input == nil {
		return fmt.Errorf("missing column statistics for explained variance")
	}
	if len(transformed.Sums) != t.K {
		return fmt.Errorf("expected statistics for %d components but got %d", t.K, len(transformed.Sums))
	}
	explained := transformed.Variances()
	total := input.TotalVariance()
	ratio := make([]float64, len(explained))
	for i, v := range explained {
		if total > 0 {
			ratio[i] = v / total
		}
	}
	t.ExplainedVariance = t.roundSlice(explained)
	t.ExplainedVarianceRatio = t.roundSlice(ratio)
	return nil
}

// SetComponents installs components computed elsewhere, e.g. on the driver.
func (t *TruncatedSVD) SetComponents(components *mat.Dense) error {
	if components == nil || components.IsEmpty() {
		return fmt.Errorf("cannot set empty components")
	}
	r, _ := components.Dims()
	if r != t.K {
		return fmt.Errorf("expected %d components but got %d", t.K, r)
	}
	t.Components = components
	return nil
}

func (t *TruncatedSVD) Fit(m mat.Matrix) error {
	_, err := t.FitTransform(m)
	return err
}

func (t *TruncatedSVD) FitTransform(m mat.Matrix) (*mat.Dense, error) {
	gram, inputStats, err := t.PartialFit(m)
	if err != nil {
		return nil, err
	}
	if err = t.FitFromGram(gram); err != nil {
		return nil, err
	}
	product, err := t.Transform(m)
	if err != nil {
		return nil, err
	}
	if err = t.SetExplainedVariance(datatypes.NewColumnStats(product), inputStats); err != nil {
		return nil, err
	}
	return product, nil
}

// Transform projects m onto the components.
func (t *TruncatedSVD) Transform(m mat.Matrix) (*mat.Dense, error) {
	if !t.Fitted() {
		return nil, fmt.Errorf("model on %s is not fitted", t.Handle)
	}
	_, c := m.Dims()
	_, n := t.Components.Dims()
	if c != n {
		return nil, fmt.Errorf("input has %d columns but the model was fitted on %d", c, n)
	}
	var product mat.Dense
	product.Mul(m, t.Components.T())
	return t.round(&product), nil
}

// InverseTransform maps m from component space back into the original space.
func (t *TruncatedSVD) InverseTransform(m mat.Matrix) (*mat.Dense, error) {
	if !t.Fitted() {
		return nil, fmt.Errorf("model on %s is not fitted", t.Handle)
	}
	_, c := m.Dims()
	k, _ := t.Components.Dims()
	if c != k {
		return nil, fmt.Errorf("input has %d columns but the model has %d components", c, k)
	}
	var product mat.Dense
	product.Mul(m, t.Components)
	return t.round(&product), nil
}

func (t *TruncatedSVD) round(m *mat.Dense) *mat.Dense {
	if t.Dtype != settings.DTYPE_FLOAT32 {
		return m
	}
	m.Apply(func(_, _ int, v float64) float64 {
		return float64(float32(v))
	}, m)
	return m
}

func (t *TruncatedSVD) roundSlice(s []float64) []float64 {
	if t.Dtype != settings.DTYPE_FLOAT32 {
		return s
	}
	for i, v := range s {
		s[i] = float64(float32(v))
	}
	return s
}
