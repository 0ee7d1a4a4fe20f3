package order

import (
	"strconv"
	"strings"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
)

const lineSeparator = "; "

// Describe renders the display description of an order, one segment per
// line:
//
//	Parent > Category | Product [SKU: CODE] (Size: XL, Color: Red) x 2
//
// Missing parts are omitted.
func Describe(lines []Line, details map[int64]catalog.Detail) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, describeLine(l, details[l.VariantID]))
	}
	return strings.Join(parts, lineSeparator)
}

func describeLine(l Line, d catalog.Detail) string {
	var b strings.Builder

	var crumbs []string
	if d.ParentCategory != "" {
		crumbs = append(crumbs, d.ParentCategory)
	}
	if d.Category != "" {
		crumbs = append(crumbs, d.Category)
	}
	if len(crumbs) > 0 {
		b.WriteString(strings.Join(crumbs, " > "))
		b.WriteString(" | ")
	}

	name := d.ProductName
	if name == "" {
		name = "Product #" + strconv.FormatInt(l.ProductID, 10)
	}
	b.WriteString(name)

	if d.Code != "" {
		b.WriteString(" [SKU: ")
		b.WriteString(d.Code)
		b.WriteString("]")
	}

	if len(d.Attributes) > 0 {
		attrs := make([]string, len(d.Attributes))
		for i, a := range d.Attributes {
			attrs[i] = a.Name + ": " + a.Value
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteString(")")
	}

	b.WriteString(" x ")
	b.WriteString(strconv.Itoa(l.Quantity))
	return b.String()
}
