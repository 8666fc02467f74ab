package access

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/storage/docstore"
)

var (
	nodeKeyTag  = "nodekey"
	nodeKeyText = "must be a valid id (no '.', '$', '#', '[', ']' or '/')"
)

// InitValidators registers the validators used by access request payloads.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(nodeKeyTag, nodeKeyValidation)
	core.RegisterCustomTranslation(validate, translator, nodeKeyTag, nodeKeyText)
}

// nodeKeyValidation accepts strings usable as a single directory path segment.
func nodeKeyValidation(fl validator.FieldLevel) bool {
	return docstore.ValidKey(fl.Field().String())
}

// SchoolRef is the payload selecting one school.
type SchoolRef struct {
	SchoolID string `json:"school_id" validate:"required,nodekey"`
}
