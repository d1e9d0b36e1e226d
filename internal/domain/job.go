package domain

import (
	"fmt"
	"time"
)

// SolvingMethod — метод решения системы линейных уравнений.
// Значения совпадают с идентификаторами методов удалённого солвера.
type SolvingMethod string

const (
	MethodNumpyExact SolvingMethod = "numpy_exact_solver"
	MethodNumpyLstsq SolvingMethod = "numpy_lstsq_solver"
	MethodNumpyPinv  SolvingMethod = "numpy_pinv_solver"
	MethodPetsc      SolvingMethod = "petsc_solver"
	MethodScipyGMRES SolvingMethod = "scipy_gmres_solver"
)

// SolvingMethods возвращает все известные методы в стабильном порядке.
func SolvingMethods() []SolvingMethod {
	return []SolvingMethod{
		MethodNumpyExact,
		MethodNumpyLstsq,
		MethodNumpyPinv,
		MethodPetsc,
		MethodScipyGMRES,
	}
}

// ParseSolvingMethod разбирает имя метода.
func ParseSolvingMethod(s string) (SolvingMethod, error) {
	for _, m := range SolvingMethods() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Job — задача на решение системы A·x = b.
//
// Job приходит в очередь задач от фронтенда и неизменяема после создания.
// Форма матрицы не проверяется: несогласованные строки отклоняет солвер,
// и его сообщение попадает в ERROR-результат.
type Job struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	Matrix    [][]float64   `json:"matrix"`
	RHS       []float64     `json:"rhs"`
	Method    SolvingMethod `json:"solvingMethod"`
}

// NewJob создаёт задачу с текущим временем создания.
func NewJob(id string, matrix [][]float64, rhs []float64, method SolvingMethod) Job {
	return Job{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Matrix:    matrix,
		RHS:       rhs,
		Method:    method,
	}
}

// Validate проверяет обязательные поля.
func (j Job) Validate() error {
	if j.ID == "" {
		return ErrEmptyJobID
	}
	if _, err := ParseSolvingMethod(string(j.Method)); err != nil {
		return err
	}
	return nil
}

// CancelRequest — сообщение отмены, публикуемое в очередь отмены конкретной задачи.
type CancelRequest struct {
	JobID string `json:"jobId"`
}
