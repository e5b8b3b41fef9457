package main

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/olekukonko/tablewriter"
)

// tableOptions alters how renderTable prints rows.
type tableOptions struct {
	// Border draws the table frame.
	Border bool
	// TimeFormat formats time.Time cells; time.DateTime when empty.
	TimeFormat string
}

// renderTable prints a slice of structs as a table. Only fields with a
// `header` tag become columns, in field order.
func renderTable(w io.Writer, slice any, opts tableOptions) error {
	v := reflect.ValueOf(slice)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("table must be a slice, got %s", v.Kind())
	}
	if v.Len() == 0 {
		return nil
	}
	if v.Index(0).Kind() != reflect.Struct {
		return fmt.Errorf("table rows must be structs, got %s", v.Index(0).Kind())
	}

	table := tablewriter.NewWriter(w)
	table.SetBorder(opts.Border)
	table.SetColumnSeparator(" ")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	var headers []string
	for r := 0; r < v.Len(); r++ {
		elem := v.Index(r)
		var row []string
		for f := 0; f < elem.NumField(); f++ {
			header, ok := elem.Type().Field(f).Tag.Lookup("header")
			if !ok {
				continue
			}
			if r == 0 {
				headers = append(headers, header)
			}
			row = append(row, formatCell(elem.Field(f).Interface(), opts))
		}
		table.Append(row)
	}
	table.SetHeader(headers)
	table.Render()
	return nil
}

func formatCell(value any, opts tableOptions) string {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		layout := opts.TimeFormat
		if layout == "" {
			layout = time.DateTime
		}
		return v.Local().Format(layout)
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
