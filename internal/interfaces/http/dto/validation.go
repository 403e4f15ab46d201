package dto

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// systemCodePattern matches external system codes: lowercase
// alphanumeric runs separated by single hyphens or underscores.
var systemCodePattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("syscode", validateSystemCode)
	}
}

func validateSystemCode(fl validator.FieldLevel) bool {
	return systemCodePattern.MatchString(fl.Field().String())
}
