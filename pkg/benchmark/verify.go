package benchmark

import (
	"fmt"
)

// Verification compares the received body bytes with what the run should
// have transferred
type Verification struct {
	Received int64
	Expected int64
	Passed   bool
}

// VerificationError reports that fewer bytes arrived than expected
type VerificationError struct {
	Received int64
	Expected int64
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("received bytes '%d' are less than expected '%d'", e.Received, e.Expected)
}

// ExpectedBytes is contentBytesSize * requests for each of the GET and POST phases
func ExpectedBytes(contentBytesSize, requests int) int64 {
	return int64(contentBytesSize) * int64(requests) * 2
}

// Verify checks that the successful GET and POST bodies add up to at least
// the expected total. Extra bytes are accepted.
func Verify(get, post PhaseResult, contentBytesSize, requests int) Verification {
	v := Verification{
		Received: get.Bytes + post.Bytes,
		Expected: ExpectedBytes(contentBytesSize, requests),
	}
	v.Passed = v.Received >= v.Expected
	return v
}

// Err returns a *VerificationError when the check failed, nil otherwise
func (v Verification) Err() error {
	if v.Passed {
		return nil
	}
	return &VerificationError{Received: v.Received, Expected: v.Expected}
}

// WarmupRequests returns max(requests/10, concurrency)
func WarmupRequests(requests, concurrency int) int {
	return max(requests/10, concurrency)
}
