package codec

import (
	"strings"
)

// canonical maps primitive type names, Go or CLR spelling, to short labels.
var canonical = map[string]string{
	"String":   "string",
	"string":   "string",
	"Int32":    "int",
	"int32":    "int",
	"Int64":    "long",
	"int64":    "long",
	"int":      "long",
	"Int16":    "short",
	"int16":    "short",
	"Boolean":  "bool",
	"bool":     "bool",
	"Byte":     "byte",
	"byte":     "byte",
	"uint8":    "byte",
	"Single":   "float",
	"float32":  "float",
	"Double":   "double",
	"float64":  "double",
	"Decimal":  "decimal",
	"decimal":  "decimal",
	"Char":     "char",
	"char":     "char",
	"SByte":    "sbyte",
	"Sbyte":    "sbyte",
	"int8":     "sbyte",
	"Time":     "DateTime",
	"DateTime": "DateTime",
	"UUID":     "Guid",
	"Guid":     "Guid",
}

// CanonicalTypeName strips any package or namespace prefix from name, maps
// well-known primitives to their short label and appends "?" when the type
// is nullable. A leading "*" also marks the type nullable.
func CanonicalTypeName(name string, nullable bool) string {
	name = strings.TrimSpace(name)
	for strings.HasPrefix(name, "*") {
		nullable = true
		name = name[1:]
	}
	if strings.HasSuffix(name, "?") {
		nullable = true
		name = strings.TrimSuffix(name, "?")
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if short, ok := canonical[name]; ok {
		name = short
	}
	if nullable && name != "" {
		name += "?"
	}
	return name
}
