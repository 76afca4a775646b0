package plugin

import (
	"errors"
	"fmt"

	xerrors "AgentHost/internal/errors"
)

// Failure codes reported while loading and looking up agents.
const (
	CodeInvalidPath         xerrors.Code = "INVALID_PATH"
	CodeConfigMissing       xerrors.Code = "CONFIG_MISSING"
	CodeConfigInvalid       xerrors.Code = "CONFIG_INVALID"
	CodeConfigIncomplete    xerrors.Code = "CONFIG_INCOMPLETE"
	CodeCodeMissing         xerrors.Code = "CODE_MISSING"
	CodeAgentFileMissing    xerrors.Code = "AGENT_FILE_MISSING"
	CodeLoadExecution       xerrors.Code = "LOAD_EXECUTION_ERROR"
	CodeMissingEntryPoint   xerrors.Code = "MISSING_ENTRY_POINT"
	CodeInvalidHook         xerrors.Code = "INVALID_HOOK"
	CodeInitializationError xerrors.Code = "INITIALIZATION_ERROR"
	CodeAgentNotFound       xerrors.Code = "AGENT_NOT_FOUND"
)

// Sentinels for errors.Is. Matching is by code, so any error produced by this
// package with the same code satisfies errors.Is against these values.
var (
	ErrInvalidPath         = xerrors.New(CodeInvalidPath, "")
	ErrConfigMissing       = xerrors.New(CodeConfigMissing, "")
	ErrConfigInvalid       = xerrors.New(CodeConfigInvalid, "")
	ErrConfigIncomplete    = xerrors.New(CodeConfigIncomplete, "")
	ErrCodeMissing         = xerrors.New(CodeCodeMissing, "")
	ErrAgentFileMissing    = xerrors.New(CodeAgentFileMissing, "")
	ErrLoadExecution       = xerrors.New(CodeLoadExecution, "")
	ErrMissingEntryPoint   = xerrors.New(CodeMissingEntryPoint, "")
	ErrInvalidHook         = xerrors.New(CodeInvalidHook, "")
	ErrInitializationError = xerrors.New(CodeInitializationError, "")
	ErrAgentNotFound       = xerrors.New(CodeAgentNotFound, "")
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeInvalidPath:         {Message: "agent path is neither a directory nor a loadable file", Severity: xerrors.SeverityInfo},
		CodeConfigMissing:       {Message: "agent directory has no config.json", Severity: xerrors.SeverityInfo},
		CodeConfigInvalid:       {Message: "agent configuration is malformed", Severity: xerrors.SeverityWarning},
		CodeConfigIncomplete:    {Message: "agent configuration lacks a required field", Severity: xerrors.SeverityWarning},
		CodeCodeMissing:         {Message: "agent directory has no agent code file", Severity: xerrors.SeverityInfo},
		CodeAgentFileMissing:    {Message: "agent file does not exist", Severity: xerrors.SeverityInfo},
		CodeLoadExecution:       {Message: "agent code failed while loading", Severity: xerrors.SeverityWarning},
		CodeMissingEntryPoint:   {Message: "agent does not define a usable ProcessCommand", Severity: xerrors.SeverityWarning},
		CodeInvalidHook:         {Message: "agent hook has an unusable signature", Severity: xerrors.SeverityWarning},
		CodeInitializationError: {Message: "agent Initialize hook failed", Severity: xerrors.SeverityWarning},
		CodeAgentNotFound:       {Message: "agent not found", Severity: xerrors.SeverityInfo},
	} {
		xerrors.Register(code, attr)
	}
}

func failure(code xerrors.Code, path string, cause error, format string, args ...any) *xerrors.Error {
	msg := fmt.Sprintf(format, args...)
	opts := []xerrors.Option{}
	if path != "" {
		opts = append(opts, xerrors.WithMetadata("path", path))
	}
	if cause == nil {
		return xerrors.New(code, msg, opts...)
	}
	return xerrors.Wrap(code, cause, msg, opts...)
}

func incomplete(path, field string) *xerrors.Error {
	e := failure(CodeConfigIncomplete, path, nil, "%s: missing required field %q", path, field)
	xerrors.WithMetadata("field", field)(e)
	return e
}

// MissingField returns the manifest field named by the CONFIG_INCOMPLETE
// failure in err's chain.
func MissingField(err error) string {
	for ; err != nil; err = errors.Unwrap(err) {
		if e, ok := err.(*xerrors.Error); ok && e.Code() == CodeConfigIncomplete {
			return e.Meta("field")
		}
	}
	return ""
}

// PathOf returns the first path recorded in err's chain.
func PathOf(err error) string {
	for ; err != nil; err = errors.Unwrap(err) {
		if e, ok := err.(*xerrors.Error); ok && e.Meta("path") != "" {
			return e.Meta("path")
		}
	}
	return ""
}
