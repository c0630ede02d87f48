package vnet

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchHost is returned when a name resolves through neither the host
	// table nor DNS.
	ErrNoSuchHost = errors.New("Name or service not known")

	// ErrNoSuchChain is returned for firewall chains other than INPUT, FORWARD and OUTPUT.
	ErrNoSuchChain = errors.New("No chain/target/match by that name.")

	// ErrNoSuchInterface is returned for unknown link names.
	ErrNoSuchInterface = errors.New("Cannot find device")

	// ErrRuleIndex is returned when a rule position is outside the chain.
	ErrRuleIndex = errors.New("Index of deletion too big.")

	// ErrBadRule is returned when a rule specification cannot be parsed or matched.
	ErrBadRule = errors.New("Bad rule (does a matching rule exist in that chain?).")

	// ErrExists and ErrNoSuchRoute mirror the RTNETLINK answers for route edits.
	ErrExists      = errors.New("File exists")
	ErrNoSuchRoute = errors.New("No such process")
)

// FetchError is an HTTP transfer failure carrying curl's exit code.
type FetchError struct {
	Code    int
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("curl: (%d) %s", e.Code, e.Message)
}

// Curl exit codes used by the simulator.
const (
	CurlUnsupportedProtocol = 1
	CurlMalformedURL        = 3
	CurlCouldNotResolve     = 6
	CurlCouldNotConnect     = 7
	CurlTimeout             = 28
)
