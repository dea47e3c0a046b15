package models

import (
	"errors"
	"fmt"
)

// ProviderError reports a failed or timed-out market-data call
type ProviderError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DataQualityError reports provider data that cannot be analysed.
// It is terminal and never retried.
type DataQualityError struct {
	Symbol string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality %s: %s", e.Symbol, e.Reason)
}

// AnalysisError wraps whatever stopped the analysis of one symbol
type AnalysisError struct {
	Symbol string
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %s failed: %v", e.Symbol, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Failure kinds used in scan summaries
const (
	KindProvider    = "provider"
	KindDataQuality = "data_quality"
	KindInternal    = "internal"
	KindLimit       = "limit"
)

// ErrorKind classifies err for reporting
func ErrorKind(err error) string {
	var pe *ProviderError
	var dq *DataQualityError
	switch {
	case errors.As(err, &dq):
		return KindDataQuality
	case errors.As(err, &pe):
		return KindProvider
	default:
		return KindInternal
	}
}
