package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report wire names in validation errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// Validate checks the descriptor invariants: a non-blank job id and source
// location, and well-formed optional URLs.
func (d *Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	if strings.TrimSpace(d.JobID) == "" {
		return fmt.Errorf("%w: jobId is blank", ErrInvalidJob)
	}
	if strings.TrimSpace(d.SourceLocation) == "" {
		return fmt.Errorf("%w: sourceLocation is blank", ErrInvalidJob)
	}

	return nil
}

// Encode serializes a descriptor into its wire form
func Encode(d *Descriptor) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrInvalidJob)
	}

	wire := *d
	wire.CreatedAt = d.CreatedAt.UTC()
	wire.Metadata.UploadedAt = d.Metadata.UploadedAt.UTC()

	data, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload into a fresh descriptor.
// Every failure is a *MalformedJobError.
func Decode(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &MalformedJobError{Reason: "invalid JSON", Err: err}
	}

	if d.SchemaVersion == 0 {
		d.SchemaVersion = 1
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.Metadata.UploadedAt = d.Metadata.UploadedAt.UTC()
	if d.SchemaVersion > SchemaVersion {
		return nil, &MalformedJobError{
			Reason: fmt.Sprintf("unsupported schema version %d (max %d)", d.SchemaVersion, SchemaVersion),
		}
	}

	if err := d.Validate(); err != nil {
		return nil, &MalformedJobError{Reason: "schema validation failed", Err: err}
	}

	return &d, nil
}
