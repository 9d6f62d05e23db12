package executor

import "strings"

// Class buckets a submission error for retry policy. Logic errors are
// terminal; everything else is worth another attempt.
type Class string

const (
	ClassLogic       Class = "logic"
	ClassRateLimit   Class = "rate_limit"
	ClassNonce       Class = "nonce"
	ClassUnderpriced Class = "underpriced"
	ClassTransient   Class = "transient"
)

// Classify maps an RPC error onto a Class by message inspection. Node
// implementations do not agree on error shapes, so this is substring
// matching on the usual suspects. Unknown errors default to transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "always failing transaction"),
		strings.Contains(msg, "revert"):
		return ClassLogic
	case strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"):
		return ClassRateLimit
	// Underpriced before nonce: "replacement transaction underpriced"
	// mentions neither, but some nodes wrap both in one message and the
	// price problem is the actionable one.
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "fee cap less than block base fee"),
		strings.Contains(msg, "max fee per gas less than block base fee"):
		return ClassUnderpriced
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "invalid nonce"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "already imported"):
		return ClassNonce
	}
	return ClassTransient
}

// Retryable reports whether another attempt can change the outcome.
func Retryable(c Class) bool {
	return c != ClassLogic
}
