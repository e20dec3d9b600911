package sound

import "errors"

// Usage errors. These indicate a programming mistake in the caller. They are
// logged at error level and returned, and they panic when Config.Strict is set.
var (
	// ErrAlreadyInitialized is returned by a second call to Manager.Initialize.
	ErrAlreadyInitialized = errors.New("sound manager already initialized")

	// ErrAlreadyRegistered is returned when a source is registered twice.
	ErrAlreadyRegistered = errors.New("sound source already registered")

	// ErrNotRegistered is returned when removing a source that is not registered.
	ErrNotRegistered = errors.New("sound source not registered")

	// ErrUnknownCategory is returned for a category name that has no bus.
	ErrUnknownCategory = errors.New("unknown sound category")

	// ErrInvalidRate is returned for a playback rate that is not positive.
	ErrInvalidRate = errors.New("playback rate must be positive")

	// ErrConfig is wrapped by every configuration validation error.
	ErrConfig = errors.New("invalid sound configuration")

	// ErrOutOfRange is reported for levels outside [0, 1] in strict mode.
	// Outside strict mode levels are clamped silently.
	ErrOutOfRange = errors.New("level out of range")
)

// ErrNotInitialized is returned by runtime setters called before
// Manager.Initialize. It is logged as a warning, not as a usage error, because
// builds with sound disabled never initialize the manager.
var ErrNotInitialized = errors.New("sound manager not initialized")

var usageErrors = []error{
	ErrAlreadyInitialized,
	ErrAlreadyRegistered,
	ErrNotRegistered,
	ErrUnknownCategory,
	ErrInvalidRate,
	ErrConfig,
	ErrOutOfRange,
}

// IsUsage reports whether err is a caller mistake rather than an expected
// runtime condition.
func IsUsage(err error) bool {
	for _, target := range usageErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
