package validator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/referral-api/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules string) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	v := playground.New()
	v.SetTagName("validate")
	RegisterRules(v)
	return &validator{v: v}
}

var ginOnce sync.Once

// RegisterGinRules installs the custom rules on gin's binding validator so
// `binding:"lat"` style tags work in request structs.
func RegisterGinRules() {
	ginOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*playground.Validate); ok {
			RegisterRules(v)
		}
	})
}

// RegisterRules adds lat, lng and heading.
func RegisterRules(v *playground.Validate) {
	_ = v.RegisterValidation("lat", func(fl playground.FieldLevel) bool {
		return inRange(fl, -90, 90)
	})
	_ = v.RegisterValidation("lng", func(fl playground.FieldLevel) bool {
		return inRange(fl, -180, 180)
	})
	_ = v.RegisterValidation("heading", func(fl playground.FieldLevel) bool {
		return inRange(fl, 0, 360)
	})
}

func inRange(fl playground.FieldLevel, min, max float64) bool {
	f := fl.Field()
	if !f.CanFloat() {
		return false
	}
	x := f.Float()
	return x >= min && x <= max
}

func (v *validator) Validate(obj interface{}) error {
	if err := v.v.Struct(obj); err != nil {
		return translate(err)
	}
	return nil
}

func (v *validator) ValidateField(field string, value interface{}, rules string) error {
	if err := v.v.Var(value, rules); err != nil {
		if verrs, ok := err.(playground.ValidationErrors); ok && len(verrs) > 0 {
			return errors.Validation("%s failed %s validation", field, verrs[0].Tag())
		}
		return errors.Validation("%s is invalid", field)
	}
	return nil
}

func translate(err error) error {
	verrs, ok := err.(playground.ValidationErrors)
	if !ok {
		return errors.Validation("%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.Validation("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe playground.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "lat":
		return fmt.Sprintf("%s must be a latitude in [-90, 90]", field)
	case "lng":
		return fmt.Sprintf("%s must be a longitude in [-180, 180]", field)
	case "heading":
		return fmt.Sprintf("%s must be a heading in [0, 360]", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
