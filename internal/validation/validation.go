package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrNotRegular    = errors.New("not a regular file")
	ErrSamePath      = errors.New("input and output are the same file")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// file suffixes like ".enc": a leading dot and no path separators
	validate.RegisterValidation("suffix", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) > 1 && s[0] == '.' && !strings.ContainsAny(s, `/\`)
	})
}

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" || strings.ContainsRune(p, 0) {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrNotRegular, p)
		}
	}
	return nil
}

// ValidateDistinctPaths rejects an output path that resolves to the input.
func ValidateDistinctPaths(in, out string) error {
	a, err := filepath.Abs(in)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	b, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if a == b {
		return fmt.Errorf("%w: %s", ErrSamePath, in)
	}
	if ai, err := os.Stat(a); err == nil {
		if bi, err := os.Stat(b); err == nil && os.SameFile(ai, bi) {
			return fmt.Errorf("%w: %s", ErrSamePath, in)
		}
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

// ValidateStruct checks validate struct tags and reports the first failure.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "suffix":
			return fmt.Errorf("%s: %q is not a file suffix", field, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
