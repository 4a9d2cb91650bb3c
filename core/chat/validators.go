package chat

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/mpkschool/backend/core"
)

var (
	roomTag  = "room"
	roomText = "must be \"public\" or a private room (private:<id>:<id>...)"

	sendRoomTag  = "sendroom"
	sendRoomText = "must be \"public\", \"private\" or a private room (private:<id>:<id>...)"
)

// InitValidators registers the chat validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roomTag, roomValidation)
	core.RegisterCustomTranslation(validate, translator, roomTag, roomText)

	_ = validate.RegisterValidation(sendRoomTag, sendRoomValidation)
	core.RegisterCustomTranslation(validate, translator, sendRoomTag, sendRoomText)
}
