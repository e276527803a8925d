// Package kerrs names the Kafka protocol error codes the cluster can
// return. kerr itself only exports *kerr.Error values (not bare int16s), so
// the numeric codes here are named locally to match the wire protocol
// exactly; ErrorFromCode/CodeFromError bridge to kerr.Error for the call
// sites that need a real Go error rather than a wire code.
package kerrs

import (
	"errors"

	"github.com/twmb/franz-go/pkg/kerr"
)

const (
	None                     = int16(0)
	UnknownTopicOrPartition  = int16(3)
	LeaderNotAvailable       = int16(5)
	NotLeaderForPartition    = int16(6)
	InvalidRecord            = int16(87)
	UnsupportedVersion       = int16(35)
	CoordinatorNotAvailable  = int16(15)
	OffsetOutOfRange         = int16(1)
	InvalidReplicationFactor = int16(38)
	InvalidTopicException    = int16(17)
	UnknownServerError       = int16(-1)
)

// ErrorFromCode resolves a Kafka error code to a Go error for the handful of
// call sites that need to return one (control-op application, test
// assertions); the protocol layer itself always carries the code, not an
// error value.
func ErrorFromCode(code int16) error {
	if code == None {
		return nil
	}
	return kerr.ErrorForCode(code)
}

// CodeFromError is the inverse of ErrorFromCode, used when a lower layer
// hands back a typed kerr error and a handler needs the wire code.
func CodeFromError(err error) int16 {
	if err == nil {
		return None
	}
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return UnknownServerError
}
