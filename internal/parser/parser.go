package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	resenerrors "resen/internal/errors"
	"resen/pkg/bucket"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Parse reads and validates a bucket YAML file.
func Parse(filePath string) (*bucket.Bucket, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, resenerrors.NewBucketError(
			"Failed to locate bucket file",
			fmt.Sprintf("%s does not exist", filePath),
			"Pass the path of an existing bucket file with --file",
			fmt.Errorf("bucket file not found: %s", filePath),
		)
	}

	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, malformed(filePath, fmt.Errorf("failed to read bucket file: %w", err))
	}

	var b bucket.Bucket
	if err := v.Unmarshal(&b); err != nil {
		return nil, malformed(filePath, fmt.Errorf("failed to parse bucket file - malformed YAML: %w", err))
	}

	if b.Docker.Name == "" {
		b.Docker.Name = b.Metadata.Name
	}

	if err := validate.Struct(&b); err != nil {
		return nil, malformed(filePath, formatValidationError(err))
	}

	if err := b.Docker.Validate(); err != nil {
		return nil, malformed(filePath, fmt.Errorf("validation error: %w", err))
	}

	return &b, nil
}

func malformed(filePath string, err error) error {
	return resenerrors.NewMalformedInputError(
		fmt.Sprintf("Invalid bucket file %s", filePath),
		err.Error(),
		"Fix the bucket file and try again",
		err,
	)
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validation failed: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}

	if len(messages) == 1 {
		return fmt.Errorf("validation error: %s", messages[0])
	}
	return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "eq":
		return fmt.Sprintf("field '%s' must be '%s'", field, e.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "min", "max":
		return fmt.Sprintf("field '%s' must be between 1 and 65535", field)
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, e.Tag())
	}
}
