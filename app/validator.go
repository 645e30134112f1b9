package roomchat

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/putto11262002/roomchat/core"
)

var validate *validator.Validate
var uniTrans *ut.UniversalTranslator

func registerTranslation(trans ut.Translator, tag, text string) {
	validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, text, true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(tag, fe.Field())
		return t
	})
}

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	en := en.New()
	uniTrans = ut.New(en, en)
	enTrans, _ := uniTrans.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(validate, enTrans)

	// lowercase field names so errors match config keys
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("mapstructure"); name != "" {
			return name
		}
		return strings.ToLower(field.Name)
	})

	registerTranslation(enTrans, "required", "{0} is a required field")

	validate.RegisterValidation("port", func(fl validator.FieldLevel) bool {
		port, ok := fl.Field().Interface().(int)
		if !ok {
			return false
		}
		return port > 0 && port <= 65535
	})
	registerTranslation(enTrans, "port", "{0} must be a valid port number")

	validate.RegisterValidation("keyencoding", func(fl validator.FieldLevel) bool {
		_, err := core.ParseKeyEncoding(fl.Field().String())
		return err == nil
	})
	registerTranslation(enTrans, "keyencoding", "{0} must be one of delimited, concat")
}
