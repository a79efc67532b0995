package lta

import (
	"errors"
	"fmt"
)

// Kind classifies why an upstream fetch failed.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindServer
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is against a *FetchError.
var (
	ErrNetwork = errors.New("network failure")
	ErrServer  = errors.New("server failure")
	ErrData    = errors.New("malformed data")
)

// FetchError is returned by every Client method.
type FetchError struct {
	Kind     Kind
	Endpoint string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("%s: server returned status %d", e.Endpoint, e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrServer:
		return e.Kind == KindServer
	case ErrData:
		return e.Kind == KindData
	}
	return false
}

// KindOf returns the failure kind of err, or 0 when err is not a *FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
