package httpx

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/mitchellh/mapstructure"
)

var validate = newValidator()

// newValidator reports failing fields by their query parameter name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	return v
}

// bindQuery decodes query parameters into out using `query` struct tags and
// validates it with `validate` tags. Single values become scalars, repeated
// values become slices. All failures wrap domain.ErrInvalidQuery.
func bindQuery(q url.Values, out any) error {
	in := make(map[string]any, len(q))
	for k, vs := range q {
		switch len(vs) {
		case 0:
		case 1:
			in[k] = vs[0]
		default:
			in[k] = vs
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "query",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidQuery, decodeMessage(err))
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidQuery, validationMessage(err))
	}
	return nil
}

func decodeMessage(err error) string {
	var me *mapstructure.Error
	if errors.As(err, &me) && len(me.Errors) > 0 {
		return me.Errors[0]
	}
	return err.Error()
}

// validationMessage names the first failing parameter by its query name.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "gte":
		return fe.Field() + " must be at least " + fe.Param()
	case "max", "lte":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
