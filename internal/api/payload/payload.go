// Package payload decodes and validates message payloads shared by the
// WebSocket and REST surfaces.
package payload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals data into v and validates it. Failures wrap
// types.ErrInvalidRequest.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := wire.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", types.ErrInvalidRequest, err)
	}
	return Validate(v)
}

// Validate checks the struct tags of v.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
}
