package recipient

import "strings"

// Row is one recipient record keyed by column name.
type Row map[string]string

// Mapping binds the pipeline's roles to table columns.
type Mapping struct {
	Recipient string `json:"recipient"`
	Name      string `json:"name"`
	Subject   string `json:"subject,omitempty"`
}

// Value returns the trimmed value of column, or "" when the column is
// absent from the row.
func (r Row) Value(column string) string {
	if column == "" {
		return ""
	}
	value, ok := r[column]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// Address returns the recipient email of the row under mapping.
func (m Mapping) Address(row Row) string {
	return row.Value(m.Recipient)
}

// DisplayName returns the mapped name value of the row.
func (m Mapping) DisplayName(row Row) string {
	return row.Value(m.Name)
}

// Validate reports the mapping fields that do not reference a column of
// rows. A column exists when at least one row carries the key.
func (m Mapping) Validate(rows []Row) []string {
	var invalid []string
	columns := columnSet(rows)
	check := func(field, column string, required bool) {
		if strings.TrimSpace(column) == "" {
			if required {
				invalid = append(invalid, field)
			}
			return
		}
		if len(rows) == 0 {
			return
		}
		if _, ok := columns[column]; !ok {
			invalid = append(invalid, field)
		}
	}
	check("mapping.recipient", m.Recipient, true)
	check("mapping.name", m.Name, true)
	check("mapping.subject", m.Subject, false)
	return invalid
}

// Eligible returns the rows with a non-empty recipient value, in input order.
func Eligible(rows []Row, mapping Mapping) []Row {
	eligible := make([]Row, 0, len(rows))
	for _, row := range rows {
		if mapping.Address(row) == "" {
			continue
		}
		eligible = append(eligible, row)
	}
	return eligible
}

// Context builds the render context for row: every column plus the
// "name" and "recipient" aliases.
func Context(row Row, mapping Mapping) map[string]any {
	ctx := make(map[string]any, len(row)+2)
	for column, value := range row {
		ctx[column] = value
	}
	ctx["name"] = row[mapping.Name]
	ctx["recipient"] = row[mapping.Recipient]
	return ctx
}

// Addresses lists the recipient emails of rows.
func Addresses(rows []Row, mapping Mapping) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapping.Address(row))
	}
	return out
}

func columnSet(rows []Row) map[string]struct{} {
	columns := map[string]struct{}{}
	for _, row := range rows {
		for column := range row {
			columns[column] = struct{}{}
		}
	}
	return columns
}
