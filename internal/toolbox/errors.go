package toolbox

import (
	"errors"
	"fmt"
)

// Failure codes carried by ToolError. HTTP failures use "HTTP_<status>".
const (
	CodeNotFound       = "NOT_FOUND"
	CodeDisambiguation = "DISAMBIGUATION"
	CodeInvalidRSS     = "INVALID_RSS"
	CodeNoHeadlines    = "NO_HEADLINES"
	CodeParseError     = "PARSE_ERROR"
	CodeException      = "EXCEPTION"
)

// ToolError is a failed lookup. It never aborts a turn; the toolbox turns it
// into a NOT AVAILABLE block.
type ToolError struct {
	Code   string
	Status int
	Err    error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return e.Code + ":" + e.Err.Error()
	}
	return e.Code
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func statusError(status int) *ToolError {
	return &ToolError{Code: fmt.Sprintf("HTTP_%d", status), Status: status}
}

// codeOf returns the short failure code used in the failure summary.
func codeOf(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeException
}

// reasonOf returns the detail shown after "NOT AVAILABLE - ".
func reasonOf(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Error()
	}
	return CodeException + ":" + err.Error()
}
