package schema

import (
	"reflect"
	"strings"
	"sync"
)

// Field describes one field of a validation schema.
type Field struct {
	Name     string
	Type     reflect.Type
	Required bool
}

type fieldInfo struct {
	Field
	index     []int
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type -> []fieldInfo

// structFields lists the exported fields of t keyed by their json name.
func structFields(t reflect.Type) []fieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]fieldInfo)
	}

	var out []fieldInfo
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(sf)
		if skip {
			continue
		}
		out = append(out, fieldInfo{
			Field: Field{
				Name:     name,
				Type:     sf.Type,
				Required: hasRule(sf.Tag.Get("validate"), "required"),
			},
			index:     sf.Index,
			omitEmpty: omitEmpty,
		})
	}

	fieldCache.Store(t, out)
	return out
}

func jsonName(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = sf.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func hasRule(tag, rule string) bool {
	for _, r := range strings.Split(tag, ",") {
		if r == rule {
			return true
		}
	}
	return false
}
