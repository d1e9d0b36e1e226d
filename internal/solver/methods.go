package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/shaiso/mdds/internal/domain"
)

// Method решает систему A·x = b.
type Method interface {
	Solve(a *mat.Dense, b *mat.VecDense) ([]float64, error)
}

// MethodFunc — адаптер функции к Method.
type MethodFunc func(a *mat.Dense, b *mat.VecDense) ([]float64, error)

func (f MethodFunc) Solve(a *mat.Dense, b *mat.VecDense) ([]float64, error) {
	return f(a, b)
}

// DefaultMethods возвращает реализованные методы.
// petsc_solver и scipy_gmres_solver здесь не поддерживаются.
func DefaultMethods() map[domain.SolvingMethod]Method {
	return map[domain.SolvingMethod]Method{
		domain.MethodNumpyExact: MethodFunc(solveExact),
		domain.MethodNumpyLstsq: MethodFunc(solveLeastSquares),
		domain.MethodNumpyPinv:  MethodFunc(solvePseudoInverse),
	}
}

// solveExact — LU разложение, только для квадратных матриц.
func solveExact(a *mat.Dense, b *mat.VecDense) ([]float64, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: exact solver needs a square matrix, got %dx%d", mat.ErrShape, r, c)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, err
	}
	return x.RawVector().Data, nil
}

// solveLeastSquares — QR (или LQ для недоопределённых систем).
func solveLeastSquares(a *mat.Dense, b *mat.VecDense) ([]float64, error) {
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, err
	}
	return x.RawVector().Data, nil
}

// solvePseudoInverse — решение минимальной нормы через SVD.
func solvePseudoInverse(a *mat.Dense, b *mat.VecDense) ([]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("svd factorization failed")
	}

	values := svd.Values(nil)
	r, c := a.Dims()
	tol := float64(max(r, c)) * 2.220446049250313e-16 * values[0]

	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}
	if rank == 0 {
		return make([]float64, c), nil
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)
	return x.RawVector().Data, nil
}

// buildSystem собирает матрицу и вектор правой части.
// Несогласованные размеры дают ошибку, обёрнутую вокруг mat.ErrShape.
func buildSystem(rows [][]float64, rhs []float64) (a *mat.Dense, b *mat.VecDense, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverError(r)
		}
	}()

	if len(rows) == 0 {
		return nil, nil, mat.ErrZeroLength
	}

	cols := len(rows[0])
	flat := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, nil, fmt.Errorf("%w: row %d has %d elements, expected %d", mat.ErrShape, i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	if len(rhs) != len(rows) {
		return nil, nil, fmt.Errorf("%w: rhs has %d elements, matrix has %d rows", mat.ErrShape, len(rhs), len(rows))
	}
	for _, v := range flat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("matrix contains non-finite value %v", v)
		}
	}

	a = mat.NewDense(len(rows), cols, flat)
	b = mat.NewVecDense(len(rhs), append([]float64(nil), rhs...))
	return a, b, nil
}

// recoverError превращает панику gonum в ошибку.
func recoverError(r any) error {
	switch v := r.(type) {
	case mat.Error:
		return v
	case error:
		return v
	default:
		return fmt.Errorf("solver panic: %v", v)
	}
}
