package validator

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const aadhaarLength = 12

// Валидатор номера Aadhaar: ровно 12 цифр, пробелы внутри допустимы
func validatorAadhaar(fl validator.FieldLevel) bool {
	number, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	number = strings.ReplaceAll(number, " ", "")
	if len(number) != aadhaarLength {
		return false
	}
	for _, r := range number {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
