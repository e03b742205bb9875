package store

import (
	"fmt"
	"strings"
)

// Order selects the sort order of a listing.
type Order int

const (
	// OrderNone returns rows in insertion order.
	OrderNone Order = iota
	OrderByType
	OrderByColour
	OrderBySex
	OrderByDate
	// OrderByName is only valid for lost-pet reports.
	OrderByName
)

var orderColumns = map[Order]string{
	OrderByType:   "type",
	OrderByColour: "colour",
	OrderBySex:    "sex",
	OrderByDate:   "reported_at",
	OrderByName:   "name",
}

func (o Order) String() string {
	if o == OrderNone {
		return "none"
	}
	if c, ok := orderColumns[o]; ok {
		if c == "reported_at" {
			return "date"
		}
		return c
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder converts a user-facing sort name ("type", "colour", "sex",
// "date", "name" or "") to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return OrderNone, nil
	case "type":
		return OrderByType, nil
	case "colour", "color":
		return OrderByColour, nil
	case "sex":
		return OrderBySex, nil
	case "date":
		return OrderByDate, nil
	case "name":
		return OrderByName, nil
	}
	return OrderNone, fmt.Errorf("unknown sort order %q", s)
}

// Query filters and orders a listing. Zero values mean "no filter".
type Query struct {
	Order Order
	Type  string
	Name  string
}

func (q Query) build(t table) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Name != "" {
		if !t.hasName {
			return "", nil, fmt.Errorf("%s reports have no name", t.name)
		}
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}

	var b strings.Builder
	b.WriteString(t.selectSQL())
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	switch col, ok := orderColumns[q.Order]; {
	case q.Order == OrderNone:
		b.WriteString(" ORDER BY id")
	case !ok:
		return "", nil, fmt.Errorf("unknown sort order %v", q.Order)
	case col == "name" && !t.hasName:
		return "", nil, fmt.Errorf("%s reports cannot be sorted by name", t.name)
	default:
		// Ties keep insertion order.
		fmt.Fprintf(&b, " ORDER BY %s ASC, id ASC", col)
	}
	return b.String(), args, nil
}
