package apperrors

import "errors"

var (
	ErrParse           = errors.New("parse error")
	ErrPolicyViolation = errors.New("policy violation")
	ErrCostRejected    = errors.New("cost rejected")
	ErrCatalogMiss     = errors.New("catalog miss")
	ErrInfrastructure  = errors.New("infrastructure failure")
	ErrTimeout         = errors.New("timeout")
	ErrQueryFailed     = errors.New("query failed")
	ErrNoStatement     = errors.New("no statement to run")
)

// Kind values are stable identifiers for error classes, suitable for
// response payloads and metrics labels.
const (
	KindParse           = "parse_error"
	KindPolicyViolation = "policy_violation"
	KindCostRejected    = "cost_rejected"
	KindCatalogMiss     = "catalog_miss"
	KindInfrastructure  = "infrastructure_failure"
	KindTimeout         = "timeout"
	KindQueryFailed     = "query_failed"
	KindNoStatement     = "no_statement"
	KindUnknown         = "unknown"
)

var kinds = []struct {
	err  error
	kind string
}{
	// Timeout is checked before infrastructure: a timeout may wrap both.
	{ErrTimeout, KindTimeout},
	{ErrInfrastructure, KindInfrastructure},
	{ErrParse, KindParse},
	{ErrPolicyViolation, KindPolicyViolation},
	{ErrCostRejected, KindCostRejected},
	{ErrCatalogMiss, KindCatalogMiss},
	{ErrQueryFailed, KindQueryFailed},
	{ErrNoStatement, KindNoStatement},
}

// KindOf returns the kind of the first sentinel found in err's chain.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsFatalInfrastructure reports whether err should abort the whole request
// path rather than be shown to the user as a rejection.
func IsFatalInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure) || errors.Is(err, ErrTimeout)
}
