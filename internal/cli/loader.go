package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/watchpatch/internal/compiler"
	"github.com/roach88/watchpatch/internal/registry"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading specs from a directory.
type LoadResult struct {
	Collections []*registry.Collection
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs compiles every collection declared by the CUE files under dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// A nil result means nothing could be loaded at all (missing directory,
// no files, CUE syntax errors).
func LoadSpecs(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, err := compiler.UnifyFiles(cuecontext.New(), cueFiles...)
	if err != nil {
		return nil, []error{convertCompileError(err, ErrCodeBuildFailed, "building CUE value")}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	colls, compileErrs := compiler.CompileAll(value)
	result.Collections = colls

	var errs []error
	for _, err := range compileErrs {
		errs = append(errs, convertCompileError(err, ErrCodeGeneric, "compiling collection"))
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(colls) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoCollections, Message: "no collections found in specs"})
	}

	return result, errs
}

// LoadRegistry loads dir and builds a registry, failing on the first
// compile or validation error.
func LoadRegistry(dir string) (*registry.Registry, error) {
	result, errs := LoadSpecs(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	reg, err := compiler.BuildRegistry(result.Collections)
	if err != nil {
		var verr compiler.ValidationError
		if errors.As(err, &verr) {
			return nil, &LoadError{Code: verr.Code, Message: fmt.Sprintf("%s: %s", verr.Field, verr.Message)}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return reg, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, fallback, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field, fallback),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    fallback,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeNoCollections = "E004" // CUE files declare no collections
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeBadInput      = "E008" // Malformed flag or input file
	ErrCodeStore         = "E009" // Database error
)

// MapFieldToErrorCode maps a compiler error field to a validation code.
func MapFieldToErrorCode(field, fallback string) string {
	switch {
	case field == "type_name":
		return compiler.ErrTypeNameEmpty
	case field == "cue":
		return ErrCodeBuildFailed
	case strings.HasSuffix(field, ".selector"):
		return compiler.ErrInvalidSelector
	case strings.HasSuffix(field, ".sort"):
		return compiler.ErrInvalidSort
	case strings.HasSuffix(field, ".limit"):
		return compiler.ErrNegativeLimit
	default:
		return fallback
	}
}
