package errors

import (
	"fmt"
	"strings"
)

// UserFriendlyError provides user-friendly error messages with context and hints.
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// Kind names one of the error taxonomy entries in the error handling design.
type Kind string

const (
	KindConfig              Kind = "config"
	KindUnknownModification Kind = "unknown_modification"
	KindArgument            Kind = "argument"
	KindSetup               Kind = "setup"
	KindModificationRuntime Kind = "modification_runtime"
	KindCommand             Kind = "command"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal"
)

// Scope describes how far an error's blast radius reaches.
type Scope string

const (
	ScopeSuite  Scope = "suite"
	ScopeTest   Scope = "test"
	ScopePacket Scope = "packet"
)

// scopes maps each Kind to its scope. No Kind maps to ScopePacket: when an
// optional modification fails, internal/pipeline logs the failure and keeps
// the carrier instead of returning an error.
var scopes = map[Kind]Scope{
	KindConfig:              ScopeSuite,
	KindUnknownModification: ScopeSuite,
	KindArgument:            ScopeSuite,
	KindSetup:               ScopeTest,
	KindModificationRuntime: ScopeTest,
	KindCommand:             ScopeTest,
	KindCancelled:           ScopeSuite,
	KindInternal:            ScopeSuite,
}

// Error is a taxonomy-tagged UserFriendlyError.
type Error struct {
	Kind Kind
	UserFriendlyError
}

// Scope reports the blast radius of this error per the error handling design.
func (e Error) Scope() Scope {
	if s, ok := scopes[e.Kind]; ok {
		return s
	}
	return ScopeSuite
}

// NewConfigError wraps a malformed-configuration error (suite, abort pre-run).
func NewConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}
	return Error{
		Kind: KindConfig,
		UserFriendlyError: UserFriendlyError{
			Message: fmt.Sprintf("configuration error in %s", configPath),
			Reason:  err.Error(),
			Hint:    "check the JSON against the documented top-level keys (cmd, nfrules, input, output)",
			Try:     fmt.Sprintf("fracture checkconfig %s", configPath),
			Err:     err,
		},
	}
}

// NewUnknownModification reports a modification name absent from the registry.
func NewUnknownModification(name string) error {
	return Error{
		Kind: KindUnknownModification,
		UserFriendlyError: UserFriendlyError{
			Message: fmt.Sprintf("unknown modification %q", name),
			Hint:    "run `fracture list` for the set of registered modification names",
		},
	}
}

// NewArgumentError reports a malformed mod_opts value for a named modification.
func NewArgumentError(modName string, err error) error {
	if err == nil {
		return nil
	}
	return Error{
		Kind: KindArgument,
		UserFriendlyError: UserFriendlyError{
			Message: fmt.Sprintf("invalid arguments for modification %q", modName),
			Reason:  err.Error(),
			Try:     fmt.Sprintf("fracture usage %s", modName),
			Err:     err,
		},
	}
}

// NewSetupError wraps a rule-install, queue-open, or fork failure for one test.
func NewSetupError(err error, testIndex int) error {
	if err == nil {
		return nil
	}
	return Error{
		Kind: KindSetup,
		UserFriendlyError: UserFriendlyError{
			Message: fmt.Sprintf("setup failed for test %d", testIndex),
			Reason:  err.Error(),
			Hint:    "diversion rules, queues, or the child process could not be brought up",
			Err:     err,
		},
	}
}

// NewModificationRuntimeError wraps a panic/error raised by apply().
func NewModificationRuntimeError(modName string, err error) error {
	if err == nil {
		return nil
	}
	return Error{
		Kind: KindModificationRuntime,
		UserFriendlyError: UserFriendlyError{
			Message: fmt.Sprintf("modification %q failed while applying", modName),
			Reason:  err.Error(),
			Err:     err,
		},
	}
}

// NewCommandError reports a non-zero exit from the user command.
func NewCommandError(exitCode int) error {
	return Error{
		Kind: KindCommand,
		UserFriendlyError: UserFriendlyError{
			Message: fmt.Sprintf("command exited with status %d", exitCode),
		},
	}
}

// NewCancelled reports suite cancellation by an external signal.
func NewCancelled() error {
	return Error{
		Kind: KindCancelled,
		UserFriendlyError: UserFriendlyError{
			Message: "suite cancelled",
		},
	}
}

// NewInternalError wraps an invariant violation.
func NewInternalError(err error) error {
	if err == nil {
		return nil
	}
	return Error{
		Kind: KindInternal,
		UserFriendlyError: UserFriendlyError{
			Message: "internal invariant violated",
			Reason:  err.Error(),
			Err:     err,
		},
	}
}
