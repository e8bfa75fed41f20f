package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/authz-api/internal/model"
)

// RegisterValidators installs domain validators on gin's binding engine.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	v.RegisterValidation("consent_scope", func(fl validator.FieldLevel) bool {
		return model.ConsentScope(fl.Field().String()).Valid()
	})
	v.RegisterValidation("consent_status", func(fl validator.FieldLevel) bool {
		return model.ConsentStatus(fl.Field().String()).Valid()
	})
	v.RegisterValidation("principal_role", func(fl validator.FieldLevel) bool {
		return model.Role(fl.Field().String()).Valid()
	})
}
