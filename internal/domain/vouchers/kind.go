// Package vouchers provides the payment/received voucher domain:
// year-partitioned storage naming, row merge semantics and cross-year
// aggregation.
package vouchers

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"fiscus/internal/core/apperror"
)

// Kind distinguishes payment vouchers (money out) from received vouchers
// (money in). Both share the same document shape.
type Kind string

const (
	KindPayment  Kind = "payment"
	KindReceived Kind = "received"
)

// tablePrefixes maps kinds to physical table name prefixes.
var tablePrefixes = map[Kind]string{
	KindPayment:  "vouchers",
	KindReceived: "received_vouchers",
}

var tablePatterns = map[Kind]*regexp.Regexp{
	KindPayment:  regexp.MustCompile(`^vouchers_(\d{4})$`),
	KindReceived: regexp.MustCompile(`^received_vouchers_(\d{4})$`),
}

// ParseKind validates a client-supplied kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", apperror.NewInvalidKind(s)
	}
	return k, nil
}

// Valid reports whether the kind is one of the two known kinds.
func (k Kind) Valid() bool {
	_, ok := tablePrefixes[k]
	return ok
}

// TablePrefix returns the physical table name prefix for the kind.
func (k Kind) TablePrefix() string {
	return tablePrefixes[k]
}

// TableName derives the physical table name for a partition year.
// The registry performs no range validation on the year beyond the
// four-digit guard at the HTTP boundary.
func (k Kind) TableName(year int) string {
	return fmt.Sprintf("%s_%d", k.TablePrefix(), year)
}

// YearFromTable extracts the partition year from a physical table name.
// Names that do not match the exact naming rule are rejected, so catalog
// introspection never produces false positives.
func (k Kind) YearFromTable(name string) (int, bool) {
	re, ok := tablePatterns[k]
	if !ok {
		return 0, false
	}
	m := re.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

// PartitionYear returns the calendar year that determines which physical
// table a voucher lives in. Computed from the voucher date at creation
// time and never stored redundantly.
func PartitionYear(date time.Time) int {
	return date.Year()
}

// ValidatePartitionYear guards client-supplied years at the API boundary.
func ValidatePartitionYear(year int) error {
	if year < 1000 || year > 9999 {
		return apperror.NewValidation("year must be a four digit calendar year").
			WithDetail("year", year)
	}
	return nil
}
