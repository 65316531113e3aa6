package services

import (
	"github.com/upb/access-control-plane/utils"
)

// ValidateInput runs struct tag validation and reports failures as a
// validation DomainError carrying one detail per field.
func ValidateInput(input interface{}) error {
	err := utils.ValidateStruct(input)
	if err == nil {
		return nil
	}

	domainErr := NewDomainError(ErrorTypeValidation, "validation failed", err)
	for field, msg := range utils.GetValidationFields(err) {
		domainErr.WithDetail(field, msg)
	}
	return domainErr
}
