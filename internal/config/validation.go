package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig checks the whole configuration, reporting every error
// at once rather than stopping at the first.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", Version, c.Version),
		})
	}

	errs = append(errs, validateSession(&c.Session)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateVerify(&c.Verify)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors
	if s.MaxEvents <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.max_events",
			Message: "must be positive",
		})
	}
	if s.AutoCheckpointThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.auto_checkpoint_threshold",
			Message: "must be positive",
		})
	}
	if s.AutoCheckpointThreshold > 0 && s.MaxEvents > 0 && s.AutoCheckpointThreshold > s.MaxEvents {
		errs = append(errs, ValidationError{
			Field:   "session.auto_checkpoint_threshold",
			Message: "cannot exceed session.max_events",
		})
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.data_dir",
			Message: "must not be empty",
		})
	}
	if s.ProofDir == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.proof_dir",
			Message: "must not be empty",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be debug, info, warn, or error, got %q", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be text or json, got %q", l.Format),
		})
	}
	return errs
}

func validateVerify(v *VerifyConfig) ValidationErrors {
	var errs ValidationErrors
	if v.MaxPerceptualDistance < 0 || v.MaxPerceptualDistance > 256 {
		errs = append(errs, ValidationError{
			Field:   "verify.max_phash_distance",
			Message: fmt.Sprintf("must be between 0 and 256 bits, got %d", v.MaxPerceptualDistance),
		})
	}
	return errs
}
