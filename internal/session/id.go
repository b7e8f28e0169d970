package session

import (
	"github.com/google/uuid"
)

// IDGenerator produces conversation identifiers.
type IDGenerator interface {
	Next() (string, error)
}

// UUIDV4Generator produces UUIDv4 strings.
type UUIDV4Generator struct{}

func (g UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ IDGenerator = UUIDV4Generator{}
