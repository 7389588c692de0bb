// Package channel holds one payload adapter per inbound channel kind.
// Each adapter owns the wire shape of its vendor and converts it into
// normalized model.InboundMessage values. The router never inspects raw
// payloads itself.
package channel

import (
	"fmt"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/validator"
)

// validateInbound runs the shared struct validation on a normalized message.
func validateInbound(msg *model.InboundMessage) error {
	if err := validator.Validate(msg); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	return nil
}
