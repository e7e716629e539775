package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category ErrorCategory
	kind     Kind
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.cause = err
	return b
}

// WithKind sets the pipeline error kind.
func (b *ErrorBuilder) WithKind(kind Kind) *ErrorBuilder {
	b.kind = kind
	return b
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Warning sets the severity to warning.
func (b *ErrorBuilder) Warning() *ErrorBuilder {
	return b.WithSeverity(SeverityWarning)
}

// Info sets the severity to info.
func (b *ErrorBuilder) Info() *ErrorBuilder {
	return b.WithSeverity(SeverityInfo)
}

// Retryable sets the retry strategy to backoff.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	return b.WithRetry(RetryBackoff)
}

// UserAction sets the retry strategy to require user action.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		kind:     b.kind,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors for common error patterns

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError creates a validation error.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).WithKind(KindInvalidRequest)
}

// AuthError creates an authentication error.
func AuthError(message string) *ErrorBuilder {
	return NewError(CategoryAuth, message).UserAction()
}

// FileSystemError creates a filesystem error.
func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message).Retryable()
}

// StoreError creates a persistence error.
func StoreError(message string) *ErrorBuilder {
	return NewError(CategoryStore, message)
}

// DaemonError creates a daemon error.
func DaemonError(message string) *ErrorBuilder {
	return NewError(CategoryDaemon, message).Fatal()
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}

// Pipeline taxonomy

// SourceUnavailable reports a repository, branch or commit that cannot be
// obtained (missing, or access denied). Never retried.
func SourceUnavailable(message string) *ErrorBuilder {
	return NewError(CategorySource, message).WithKind(KindSourceUnavailable).UserAction()
}

// SourceTimeout reports a stalled network transfer. Retried with backoff.
func SourceTimeout(message string) *ErrorBuilder {
	return NewError(CategoryNetwork, message).WithKind(KindSourceTimeout).Retryable()
}

func StepFailed(message string) *ErrorBuilder {
	return NewError(CategoryToolchain, message).WithKind(KindStepFailed)
}

func StepTimeout(message string) *ErrorBuilder {
	return NewError(CategoryToolchain, message).WithKind(KindStepTimeout)
}

func PublishFailed(message string) *ErrorBuilder {
	return NewError(CategoryPublish, message).WithKind(KindPublishFailed)
}

// WorkerLost marks a build whose worker disappeared (restart or shutdown).
func WorkerLost(message string) *ErrorBuilder {
	return NewError(CategoryScheduler, message).WithKind(KindWorkerLost)
}

// InvalidTransition signals a status change from a non-predecessor state.
// It indicates a scheduler bug and is always fatal.
func InvalidTransition(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).WithKind(KindInvalidTransition).Fatal()
}

func ApplicationNotFound(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message).WithKind(KindApplicationNotFound)
}

func ApplicationInactive(message string) *ErrorBuilder {
	return NewError(CategoryConflict, message).WithKind(KindApplicationInactive)
}

func BuildNotFound(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message).WithKind(KindBuildNotFound)
}

// Cancelled marks a user-initiated stop.
func Cancelled(message string) *ErrorBuilder {
	return NewError(CategoryScheduler, message).WithKind(KindCancelled).Info()
}
