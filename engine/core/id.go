package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID identifies workflows, queue entries, executions and scheduled jobs.
// Generated IDs are KSUIDs so they sort roughly by creation time.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return id == ""
}

func NewID() (ID, error) {
	k, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return ID(k.String()), nil
}

func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}
