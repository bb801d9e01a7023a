package errors

// Job failure taxonomy. Every job failure belongs to exactly one kind:
//
//   - ErrConfig: malformed job config. The job fails before touching any row.
//   - ErrData: per-record or per-cell degradation. Recorded in the result
//     summary, never fails the job.
//   - ErrDependency: embedding provider or database unavailable. The job
//     fails and may be resubmitted as a fresh job.
//
// There is deliberately no consistency kind: duplicate resolution attempts
// are absorbed by idempotent upserts.
var (
	ErrConfig     = New("config error")
	ErrData       = New("data error")
	ErrDependency = New("dependency error")
)

// NewConfigError creates a config-kind error with a formatted message.
func NewConfigError(format string, args ...interface{}) error {
	return Wrap(ErrConfig, Newf(format, args...).Error())
}

// NewDataError creates a data-kind error with a formatted message.
func NewDataError(format string, args ...interface{}) error {
	return Wrap(ErrData, Newf(format, args...).Error())
}

// NewDependencyError wraps an underlying failure as a dependency-kind error.
func NewDependencyError(err error, context string) error {
	return Wrap(Wrap(ErrDependency, err.Error()), context)
}

// IsConfigError checks if an error is or wraps ErrConfig.
func IsConfigError(err error) bool {
	return err != nil && Is(err, ErrConfig)
}

// IsDataError checks if an error is or wraps ErrData.
func IsDataError(err error) bool {
	return err != nil && Is(err, ErrData)
}

// IsDependencyError checks if an error is or wraps ErrDependency.
func IsDependencyError(err error) bool {
	return err != nil && Is(err, ErrDependency)
}

// Retryable reports whether a failed job may be resubmitted as a new job.
// Only dependency failures are worth retrying; config and data failures
// would fail the same way again.
func Retryable(err error) bool {
	return IsDependencyError(err)
}
