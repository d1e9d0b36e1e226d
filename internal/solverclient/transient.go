package solverclient

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultTransientCodes — коды gRPC, после которых опрос повторяется.
var DefaultTransientCodes = []codes.Code{
	codes.Unavailable,
	codes.DeadlineExceeded,
	codes.ResourceExhausted,
}

// Classifier отличает временные сбои транспорта от окончательных.
// Повторяются только коды из белого списка, всё остальное окончательно.
type Classifier struct {
	transient map[codes.Code]struct{}
}

// NewClassifier создаёт классификатор. Без аргументов используется DefaultTransientCodes.
func NewClassifier(cs ...codes.Code) Classifier {
	if len(cs) == 0 {
		cs = DefaultTransientCodes
	}
	m := make(map[codes.Code]struct{}, len(cs))
	for _, c := range cs {
		m[c] = struct{}{}
	}
	return Classifier{transient: m}
}

// IsTransient возвращает true, если ошибка — gRPC статус с кодом из белого списка.
func (c Classifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	_, transient := c.transient[s.Code()]
	return transient
}

// ParseCodes разбирает имена кодов gRPC ("UNAVAILABLE", "deadline_exceeded").
func ParseCodes(names []string) ([]codes.Code, error) {
	out := make([]codes.Code, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var c codes.Code
		if err := c.UnmarshalJSON([]byte(`"` + strings.ToUpper(name) + `"`)); err != nil {
			return nil, fmt.Errorf("parse grpc code %q: %w", name, err)
		}
		out = append(out, c)
	}
	return out, nil
}
