package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/guregu/null/v5"
	"gopkg.in/yaml.v3"

	"github.com/mickamy/fieldtrail"
)

type editPointView struct {
	AuditID  int64     `yaml:"audit_id"`
	EntityID string    `yaml:"entity_id"`
	Date     time.Time `yaml:"date"`
	UserID   string    `yaml:"user_id,omitempty"`
	UserName string    `yaml:"user_name"`
	HostName string    `yaml:"host_name"`
}

func viewEditPoint(p fieldtrail.EditPoint) editPointView {
	return editPointView{AuditID: p.AuditID, EntityID: p.EntityID, Date: p.EditDate, UserID: p.UserID, UserName: p.UserName, HostName: p.HostName}
}

type propertyVersionView struct {
	editPointView `yaml:",inline"`
	Property      string  `yaml:"property"`
	Value         *string `yaml:"value"`
}

type itemView struct {
	ID         int64   `yaml:"id"`
	Operation  string  `yaml:"operation"`
	Entity1ID  string  `yaml:"entity1_id"`
	Entity2ID  *string `yaml:"entity2_id,omitempty"`
	PropertyID int64   `yaml:"property_id"`
	OldValue   *string `yaml:"old_value"`
	NewValue   *string `yaml:"new_value"`
}

type auditView struct {
	ID       int64      `yaml:"id"`
	Date     time.Time  `yaml:"date"`
	UserID   string     `yaml:"user_id,omitempty"`
	UserName string     `yaml:"user_name"`
	HostID   string     `yaml:"host_id,omitempty"`
	HostName string     `yaml:"host_name"`
	Items    []itemView `yaml:"items"`
}

type productVersionView struct {
	editPointView `yaml:",inline"`
	Product       Product `yaml:"product"`
}

func printYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func printEditPoints(out io.Writer, format string, points []fieldtrail.EditPoint) error {
	if format == "yaml" {
		views := make([]editPointView, len(points))
		for i, p := range points {
			views[i] = viewEditPoint(p)
		}
		return printYAML(out, views)
	}
	_, _ = fmt.Fprintf(out, "%-8s %-25s %-20s %s\n", "AUDIT", "DATE", "USER", "HOST")
	for _, p := range points {
		_, _ = fmt.Fprintf(out, "%-8d %-25s %-20s %s\n", p.AuditID, formatDate(p.EditDate), p.UserName, p.HostName)
	}
	return nil
}

func printPropertyHistory(out io.Writer, format string, history []fieldtrail.PropertyVersion) error {
	if format == "yaml" {
		views := make([]propertyVersionView, len(history))
		for i, h := range history {
			views[i] = propertyVersionView{editPointView: viewEditPoint(h.EditPoint), Property: h.PropertyName, Value: h.Value.Ptr()}
		}
		return printYAML(out, views)
	}
	_, _ = fmt.Fprintf(out, "%-8s %-25s %-20s %s\n", "AUDIT", "DATE", "USER", "VALUE")
	for _, h := range history {
		_, _ = fmt.Fprintf(out, "%-8d %-25s %-20s %s\n", h.AuditID, formatDate(h.EditDate), h.UserName, formatValue(h.Value))
	}
	return nil
}

func printAudit(out io.Writer, format string, a fieldtrail.Audit, items []fieldtrail.AuditItem) error {
	if format == "yaml" {
		v := auditView{ID: a.ID, Date: a.AuditDate, UserID: a.UserID, UserName: a.UserName, HostID: a.HostID, HostName: a.HostName}
		for _, it := range items {
			v.Items = append(v.Items, itemView{
				ID:         it.ID,
				Operation:  it.Operation.String(),
				Entity1ID:  it.Entity1ID,
				Entity2ID:  it.Entity2ID.Ptr(),
				PropertyID: it.PropertyID,
				OldValue:   it.OldValue.Ptr(),
				NewValue:   it.NewValue.Ptr(),
			})
		}
		return printYAML(out, v)
	}
	_, _ = fmt.Fprintf(out, "audit %d at %s by %s on %s\n", a.ID, formatDate(a.AuditDate), a.UserName, a.HostName)
	_, _ = fmt.Fprintf(out, "%-16s %-12s %-12s %-10s %-20s %s\n", "OPERATION", "ENTITY1", "ENTITY2", "PROPERTY", "OLD", "NEW")
	for _, it := range items {
		_, _ = fmt.Fprintf(out, "%-16s %-12s %-12s %-10d %-20s %s\n",
			it.Operation, it.Entity1ID, formatValue(it.Entity2ID), it.PropertyID, formatValue(it.OldValue), formatValue(it.NewValue))
	}
	return nil
}

func printVersions(out io.Writer, format string, versions []fieldtrail.Version[Product]) error {
	if format == "yaml" {
		views := make([]productVersionView, len(versions))
		for i, v := range versions {
			views[i] = productVersionView{editPointView: viewEditPoint(v.EditPoint), Product: *v.Entity}
		}
		return printYAML(out, views)
	}
	_, _ = fmt.Fprintf(out, "%-8s %-25s %-10s %-28s %-8s %s\n", "AUDIT", "DATE", "USER", "NAME", "PRICE", "DISCONTINUED")
	for _, v := range versions {
		p := v.Entity
		_, _ = fmt.Fprintf(out, "%-8d %-25s %-10s %-28s %-8s %t\n",
			v.AuditID, formatDate(v.EditDate), v.UserName, p.Name, strconv.FormatFloat(p.Price, 'f', 2, 64), p.Discontinued)
	}
	return nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatValue(v null.String) string {
	if !v.Valid {
		return "NULL"
	}
	return strconv.Quote(v.String)
}
