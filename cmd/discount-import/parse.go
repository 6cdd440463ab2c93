package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
)

// columns is the required CSV header. products and categories hold
// '|'-separated ids.
var columns = []string{"code", "kind", "value", "start_date", "end_date", "active", "description", "products", "categories"}

const (
	colCode = iota
	colKind
	colValue
	colStart
	colEnd
	colActive
	colDescription
	colProducts
	colCategories
)

// rowError describes a rejected CSV row.
type rowError struct {
	Line int
	Err  error
}

func (e *rowError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *rowError) Unwrap() error { return e.Err }

// reader yields discounts from a CSV stream.
type reader struct {
	csv  *csv.Reader
	line int
}

func newReader(r io.Reader) (*reader, error) {
	c := csv.NewReader(r)
	c.FieldsPerRecord = len(columns)
	c.TrimLeadingSpace = true
	c.ReuseRecord = true

	header, err := c.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, name := range columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return nil, errors.Errorf("header column %d is %q, want %q", i+1, header[i], name)
		}
	}
	return &reader{csv: c, line: 1}, nil
}

// Next returns the next discount, io.EOF at the end, or a *rowError for a
// malformed row. Parsing may continue after a *rowError.
func (r *reader) Next() (discount.Discount, error) {
	rec, err := r.csv.Read()
	r.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return discount.Discount{}, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) && errors.Is(pe.Err, csv.ErrFieldCount) {
			return discount.Discount{}, &rowError{Line: r.line, Err: err}
		}
		return discount.Discount{}, err
	}
	d, err := parseRecord(rec)
	if err != nil {
		return discount.Discount{}, &rowError{Line: r.line, Err: err}
	}
	return d, nil
}

func parseRecord(rec []string) (discount.Discount, error) {
	d := discount.Discount{
		Code:        strings.ToUpper(strings.TrimSpace(rec[colCode])),
		Kind:        parseKind(rec[colKind]),
		Description: strings.TrimSpace(rec[colDescription]),
		ProductIDs:  splitIDs(rec[colProducts]),
		CategoryIDs: splitIDs(rec[colCategories]),
	}
	if d.Code == "" {
		return d, errors.New("empty code")
	}

	var err error
	if d.Value, err = decimal.NewFromString(strings.TrimSpace(rec[colValue])); err != nil {
		return d, errors.Wrapf(err, "value of %s", d.Code)
	}
	if d.StartDate, err = parseDate(rec[colStart], false); err != nil {
		return d, errors.Wrapf(err, "start_date of %s", d.Code)
	}
	if d.EndDate, err = parseDate(rec[colEnd], true); err != nil {
		return d, errors.Wrapf(err, "end_date of %s", d.Code)
	}
	if d.Active, err = parseBool(rec[colActive]); err != nil {
		return d, errors.Wrapf(err, "active of %s", d.Code)
	}

	switch {
	case d.Kind != discount.KindPercentage && d.Kind != discount.KindFixed:
		return d, errors.Errorf("discount %s has unsupported kind %q", d.Code, d.Kind)
	case d.Value.IsNegative():
		return d, errors.Errorf("discount %s has negative value", d.Code)
	case d.Kind == discount.KindPercentage && d.Value.GreaterThan(decimal.NewFromInt(100)):
		return d, errors.Errorf("discount %s exceeds 100%%", d.Code)
	case d.EndDate.Before(d.StartDate):
		return d, errors.Errorf("discount %s ends before it starts", d.Code)
	case len(d.ProductIDs) == 0 && len(d.CategoryIDs) == 0:
		return d, errors.Errorf("discount %s targets no product or category", d.Code)
	}
	return d, nil
}

// parseKind maps the file's kind names onto discount kinds. Unknown names are
// passed through for parseRecord to reject.
func parseKind(s string) discount.Kind {
	switch k := strings.ToLower(strings.TrimSpace(s)); k {
	case "fixed_amount", "fixed":
		return discount.KindFixed
	case "percentage":
		return discount.KindPercentage
	default:
		return discount.Kind(k)
	}
}

// parseDate accepts RFC 3339 timestamps and plain dates in UTC. A plain date
// covers the whole day: it starts at midnight, or ends just before the next
// midnight when endOfDay is set.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return true, nil
	}
	return strconv.ParseBool(s)
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, "|") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
