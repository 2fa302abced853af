package persist

import (
	"errors"

	"github.com/segmentio/ksuid"
)

// ErrNotFound is wrapped by every not-found error in this package
var ErrNotFound = errors.New("not found")

// DBID represents a database ID
type DBID string

// GenerateID generates a application-wide unique ID
func GenerateID() DBID {
	id, err := ksuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return DBID(id.String())
}

func (d DBID) String() string {
	return string(d)
}
