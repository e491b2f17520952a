//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package schema generates JSON schemas for tool argument types by
// reflection.
package schema

import (
	"reflect"
	"strings"

	"github.com/rumycoding/kotori/tool"
)

// Generate generates a JSON schema from a reflect.Type.
// Struct fields use the json tag for naming and the description tag for
// documentation. Pointer fields and fields marked omitempty are optional.
func Generate(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	return generate(t)
}

func generate(t reflect.Type) *tool.Schema {
	switch t.Kind() {
	case reflect.Ptr:
		return generate(t.Elem())
	case reflect.Struct:
		return generateStruct(t)
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: generate(t.Elem())}
	case reflect.Map:
		return &tool.Schema{
			Type:                 "object",
			AdditionalProperties: generate(t.Elem()),
		}
	case reflect.Interface:
		// No constraint can be expressed for any.
		return &tool.Schema{}
	default:
		return &tool.Schema{Type: "string"}
	}
}

func generateStruct(t reflect.Type) *tool.Schema {
	s := &tool.Schema{
		Type:       "object",
		Properties: map[string]*tool.Schema{},
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		omitEmpty := false
		if jsonTag != "" {
			if idx := strings.Index(jsonTag, ","); idx != -1 {
				if jsonTag[:idx] != "" {
					name = jsonTag[:idx]
				}
				omitEmpty = strings.Contains(jsonTag[idx:], "omitempty")
			} else {
				name = jsonTag
			}
		}

		fs := generate(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			fs.Description = desc
		}
		s.Properties[name] = fs

		if field.Type.Kind() != reflect.Ptr && !omitEmpty {
			s.Required = append(s.Required, name)
		}
	}
	return s
}
