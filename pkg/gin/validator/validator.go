// Package validator checks gin request parameters and option structs with
// go-playground/validator.
package validator

import (
	"reflect"
	"sync"

	valid "github.com/go-playground/validator/v10"
)

// Init returns a validator reading the "binding" tag, ready to be installed
// as gin's binding.Validator.
func Init() *CustomValidator {
	v := NewCustomValidator("binding")
	v.Engine()
	return v
}

// CustomValidator validates structs, pointers to structs and slices of them.
type CustomValidator struct {
	tagName  string
	once     sync.Once
	Validate *valid.Validate
}

// NewCustomValidator creates a validator reading tagName. An empty tagName
// means the library default "validate".
func NewCustomValidator(tagName string) *CustomValidator {
	return &CustomValidator{tagName: tagName}
}

// ValidateStruct validates a struct or slice/array
func (v *CustomValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	v.lazyInit()

	val := reflect.ValueOf(obj)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Struct:
		return v.Validate.Struct(val.Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < val.Len(); i++ {
			if err := v.ValidateStruct(val.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Engine returns the underlying validator, as gin's StructValidator requires.
func (v *CustomValidator) Engine() any {
	v.lazyInit()
	return v.Validate
}

func (v *CustomValidator) lazyInit() {
	v.once.Do(func() {
		v.Validate = valid.New(valid.WithRequiredStructEnabled())
		if v.tagName != "" {
			v.Validate.SetTagName(v.tagName)
		}
	})
}
