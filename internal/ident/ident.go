package ident

import (
	"strings"
)

// Qualify returns the identifier parts of name, placing it in schema when it
// is not already qualified.
func Qualify(schema, name string) []string {
	parts := SplitQualified(name)
	if len(parts) == 0 {
		return nil
	}
	schema = strings.TrimSpace(schema)
	if len(parts) > 1 || schema == "" {
		return parts
	}
	return []string{schema, parts[0]}
}

// Table renders schema and name as a quoted, possibly qualified identifier.
func Table(schema, name string) string {
	return QuoteQualified(Qualify(schema, name))
}

// IndexName derives an index name from a table and column list, e.g.
// idx_audit_items_entity1_id.
func IndexName(table string, cols ...string) string {
	name := "idx_" + BaseTableName(table)
	for _, c := range cols {
		name += "_" + c
	}
	return name
}

// SplitQualified splits a potentially schema-qualified identifier into its parts.
func SplitQualified(ident string) []string {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil
	}
	var parts []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(ident)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				buf.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case '.':
			if inQuotes {
				buf.WriteRune(r)
				continue
			}
			part := strings.TrimSpace(buf.String())
			parts = append(parts, part)
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	part := strings.TrimSpace(buf.String())
	parts = append(parts, part)
	return parts
}

// QuoteQualified renders qualified identifier parts as a SQL identifier.
func QuoteQualified(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = Quote(p)
	}
	return strings.Join(quoted, ".")
}

// Quote safely quotes a single identifier part.
func Quote(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}

// BaseTableName returns the last segment of a qualified identifier.
func BaseTableName(ident string) string {
	parts := SplitQualified(ident)
	if len(parts) == 0 {
		return strings.TrimSpace(ident)
	}
	return parts[len(parts)-1]
}
