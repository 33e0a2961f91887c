package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/geomark/dispatch-api/internal/model"
)

// RegisterValidators installs custom validations on gin's binding engine.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("deliverystatus", validDeliveryStatus)
}

func validDeliveryStatus(fl validator.FieldLevel) bool {
	switch model.DeliveryStatus(fl.Field().String()) {
	case model.DeliveryStatusPending, model.DeliveryStatusSuccess, model.DeliveryStatusFailed:
		return true
	}
	return false
}
