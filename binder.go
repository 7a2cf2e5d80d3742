package fathom

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// Binder binds a matched declaration's resolved query values into a
// provided struct, so producers that prefer a typed view over the
// map[string]interface{} the query matcher yields can have one. A field's
// `query` tag names the descriptor whose value it receives; an untagged
// field receives the value named after the field itself, and an untagged
// struct field is bound recursively.
type Binder interface {
	// Bind binds values into the provided type i.
	Bind(i interface{}, values map[string]interface{}) error
}

// binder implements the `Binder` over reflection.
type binder struct{}

// defaultBinder serves every Request.Bind call; a Request holds no
// reference to its App, so App.Binder is not consulted there.
var defaultBinder Binder = &binder{}

// Bind implements the `Binder#Bind()`.
func (b *binder) Bind(i interface{}, values map[string]interface{}) error {
	typ := reflect.TypeOf(i)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return errors.New("fathom: binding target must be a pointer to a struct")
	}

	return b.bindData(i, values)
}

// bindData binds the values into the struct behind ptr by `query` tag.
func (b *binder) bindData(ptr interface{}, values map[string]interface{}) error {
	typ := reflect.TypeOf(ptr).Elem()
	val := reflect.ValueOf(ptr).Elem()

	for i := 0; i < typ.NumField(); i++ {
		typeField := typ.Field(i)
		structField := val.Field(i)

		if !structField.CanSet() {
			continue
		}

		name := typeField.Tag.Get("query")
		if name == "" {
			if structField.Kind() == reflect.Struct {
				if err := b.bindData(structField.Addr().Interface(), values); err != nil {
					return err
				}
				continue
			}
			name = typeField.Name
		}

		raw, exists := values[name]
		if !exists || raw == nil {
			continue
		}

		// Typed values produced by a descriptor's parser assign (or
		// convert) directly; string values go through per-kind parsing
		// the way form binding does.
		rv := reflect.ValueOf(raw)
		if s, ok := raw.(string); ok && structField.Kind() != reflect.String {
			if err := setWithProperType(typeField.Type.Kind(), s, structField); err != nil {
				return err
			}
			continue
		}

		switch {
		case rv.Type().AssignableTo(structField.Type()):
			structField.Set(rv)
		case rv.Type().ConvertibleTo(structField.Type()):
			structField.Set(rv.Convert(structField.Type()))
		default:
			return fmt.Errorf(
				"fathom: cannot bind query item %q of type %s into field %s of type %s",
				name,
				rv.Type(),
				typeField.Name,
				structField.Type(),
			)
		}
	}

	return nil
}

// setWithProperType sets the val into a field with a proper k.
func setWithProperType(k reflect.Kind, val string, field reflect.Value) error {
	bitSize := 0
	switch k {
	case reflect.Int8, reflect.Uint8:
		bitSize = 8
	case reflect.Int16, reflect.Uint16:
		bitSize = 16
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		bitSize = 32
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		bitSize = 64
	}

	switch k {
	case reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64:
		return setIntField(val, bitSize, field)
	case reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64:
		return setUintField(val, bitSize, field)
	case reflect.Bool:
		return setBoolField(val, field)
	case reflect.Float32, reflect.Float64:
		return setFloatField(val, bitSize, field)
	case reflect.String:
		field.SetString(val)
	default:
		return errors.New("fathom: unknown binding field type")
	}

	return nil
}

// setIntField sets the value into a field with a provided bitSize.
func setIntField(value string, bitSize int, field reflect.Value) error {
	if value == "" {
		value = "0"
	}
	intVal, err := strconv.ParseInt(value, 10, bitSize)
	if err == nil {
		field.SetInt(intVal)
	}
	return err
}

// setUintField sets the value into a field with a provided bitSize.
func setUintField(value string, bitSize int, field reflect.Value) error {
	if value == "" {
		value = "0"
	}
	uintVal, err := strconv.ParseUint(value, 10, bitSize)
	if err == nil {
		field.SetUint(uintVal)
	}
	return err
}

// setBoolField sets the value into a field.
func setBoolField(value string, field reflect.Value) error {
	if value == "" {
		value = "false"
	}
	boolVal, err := strconv.ParseBool(value)
	if err == nil {
		field.SetBool(boolVal)
	}
	return err
}

// setFloatField sets the value into a field with a provided bitSize.
func setFloatField(value string, bitSize int, field reflect.Value) error {
	if value == "" {
		value = "0.0"
	}
	floatVal, err := strconv.ParseFloat(value, bitSize)
	if err == nil {
		field.SetFloat(floatVal)
	}
	return err
}
