package archiver

import (
	"fmt"
	"strings"
)

// Stage names an orchestrator step.
type Stage string

// Stages in execution order.
const (
	StagePrePackage   Stage = "pre_package"
	StageBuildInitial Stage = "build_initial"
	StageReshape      Stage = "reshape"
	StagePostPackage  Stage = "post_package"
)

// UnknownModule is reported when the codec gives no detail about the failing module.
const UnknownModule = ":unknown"

// StageError tags a failure with the stage it happened in.
type StageError struct {
	// Stage is the failed step.
	Stage Stage
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// TarGenerationWarnError reports an initial build that only produced warnings.
// Warnings are fatal: a partially valid archive is never accepted.
type TarGenerationWarnError struct {
	// Module is the first application that produced a warning.
	Module string
	// Warnings lists every warning of the build.
	Warnings []string
}

// Error implements the error interface.
func (e *TarGenerationWarnError) Error() string {
	return fmt.Sprintf("tar_generation_warn: %s: %s", e.Module, strings.Join(e.Warnings, "; "))
}

// TarGenerationError reports a failed initial build.
type TarGenerationError struct {
	// Module is the application that failed, or UnknownModule.
	Module string
	// Err is the codec-reported cause.
	Err error
}

// Error implements the error interface.
func (e *TarGenerationError) Error() string {
	return fmt.Sprintf("tar_generation_error: %s: %v", e.Module, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TarGenerationError) Unwrap() error {
	return e.Err
}
