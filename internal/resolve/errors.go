package resolve

import "errors"

var (
	// ErrNoUsableInput reports a candidate with no text and no structured
	// handles. There is nothing to compare, so nothing is resolved and
	// nothing is recorded.
	ErrNoUsableInput = errors.New("candidate has no usable input")

	// ErrJudgeUnavailable wraps the final failure after judge retries are
	// exhausted. The policy treats it as a signal to fail open, not as a
	// hard error.
	ErrJudgeUnavailable = errors.New("judge unavailable")
)
