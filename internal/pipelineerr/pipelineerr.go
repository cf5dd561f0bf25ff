// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipelineerr implements the error taxonomy of spec §7: every
// error that crosses a pipeline stage boundary carries a stable Kind
// the orchestrator can switch on, plus whether it is worth retrying.
package pipelineerr

import "fmt"

// Kind is one of the eight error kinds of spec §7.
type Kind string

const (
	SchemaMissing    Kind = "SchemaMissing"
	RankerUnavailable Kind = "RankerUnavailable"
	LLMUnavailable   Kind = "LLMUnavailable"
	LLMParseError    Kind = "LLMParseError"
	LLMRefusal       Kind = "LLMRefusal"
	IRInvalid        Kind = "IRInvalid"
	CompilerError    Kind = "CompilerError"
	PipelineTimeout  Kind = "PipelineTimeout"
)

// retryable mirrors the Recovery column of spec §7's error table.
var retryable = map[Kind]bool{
	SchemaMissing:     false,
	RankerUnavailable: false, // internal: proceed unpruned, never surfaced as a retry
	LLMUnavailable:    true,
	LLMParseError:     true,
	LLMRefusal:        false,
	IRInvalid:         true, // one correction round, per §4.12
	CompilerError:     false,
	PipelineTimeout:   false,
}

// Error is the typed error the orchestrator surfaces to its caller.
// Internal diagnostics (full IR, correlation id) are carried on Detail
// but never included in Error() so end users get a redacted message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Detail  map[string]any
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the orchestrator should attempt its
// built-in recovery for this kind before surfacing to the caller.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// New builds a pipelineerr.Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail attaches internal diagnostics (e.g. the submitted IR, a
// correlation id) for logging, without changing the redacted message.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}
