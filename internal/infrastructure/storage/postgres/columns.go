package postgres

import (
	"reflect"
	"sync"
)

// ExtractDBColumns lists the "db" tags of T in field order.
// Called once per row type at package init.
func ExtractDBColumns[T any]() []string {
	var zero T
	meta := typeFields(reflect.TypeOf(zero))
	cols := make([]string, len(meta))
	for i, f := range meta {
		cols[i] = f.column
	}
	return cols
}

type columnField struct {
	index  int
	column string
}

// typeCache maps reflect.Type to []columnField.
var typeCache sync.Map

func typeFields(t reflect.Type) []columnField {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := typeCache.Load(t); ok {
		return cached.([]columnField)
	}

	var fields []columnField
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			tag := t.Field(i).Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, columnField{index: i, column: tag})
		}
	}
	typeCache.Store(t, fields)
	return fields
}

// StructToMap converts a row struct to column -> value using "db" tags,
// ready for squirrel's SetMap.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fields := typeFields(rv.Type())
	res := make(map[string]any, len(fields))
	for _, f := range fields {
		res[f.column] = rv.Field(f.index).Interface()
	}
	return res
}
