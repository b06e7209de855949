package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFilePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	os.WriteFile(file, []byte("x"), 0644)

	tests := []struct {
		name      string
		path      string
		mustExist bool
		want      error
	}{
		{"empty", "", false, ErrInvalidPath},
		{"nul byte", "a\x00b", false, ErrInvalidPath},
		{"new file", filepath.Join(dir, "new"), false, nil},
		{"missing", filepath.Join(dir, "new"), true, ErrPathNotExists},
		{"existing", file, true, nil},
		{"directory", dir, true, ErrNotRegular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path, tt.mustExist)
			if tt.want == nil && err != nil {
				t.Errorf("ValidateFilePath() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ValidateFilePath() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateDistinctPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	os.WriteFile(a, nil, 0644)

	if err := ValidateDistinctPaths(a, filepath.Join(dir, "b")); err != nil {
		t.Errorf("distinct paths rejected: %v", err)
	}
	if err := ValidateDistinctPaths(a, filepath.Join(dir, ".", "a")); !errors.Is(err, ErrSamePath) {
		t.Errorf("same path accepted: %v", err)
	}

	link := filepath.Join(dir, "link")
	if err := os.Symlink(a, link); err == nil {
		if err := ValidateDistinctPaths(a, link); !errors.Is(err, ErrSamePath) {
			t.Errorf("symlink to input accepted: %v", err)
		}
	}
}

type sample struct {
	Level  string `validate:"required,oneof=debug info"`
	Suffix string `validate:"suffix"`
	Count  int    `validate:"min=1"`
}

func TestValidateStruct(t *testing.T) {
	if err := ValidateStruct(&sample{Level: "info", Suffix: ".enc", Count: 1}); err != nil {
		t.Fatalf("ValidateStruct() on a valid struct failed: %v", err)
	}

	tests := []struct {
		s    sample
		want string
	}{
		{sample{Suffix: ".enc", Count: 1}, "Level: field is required"},
		{sample{Level: "loud", Suffix: ".enc", Count: 1}, "must be one of"},
		{sample{Level: "info", Suffix: "enc", Count: 1}, "is not a file suffix"},
		{sample{Level: "info", Suffix: "./x", Count: 1}, "is not a file suffix"},
		{sample{Level: "info", Suffix: ".enc", Count: 0}, "must be at least 1"},
	}
	for _, tt := range tests {
		err := ValidateStruct(&tt.s)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("ValidateStruct(%+v) = %v, want ErrInvalidConfig", tt.s, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("ValidateStruct(%+v) = %q, want it to mention %q", tt.s, err, tt.want)
		}
	}
}

func TestValidateStringNonEmpty(t *testing.T) {
	if ValidateStringNonEmpty("") != ErrEmptyString || ValidateStringNonEmpty("x") != nil {
		t.Error("ValidateStringNonEmpty() misclassified input")
	}
}
