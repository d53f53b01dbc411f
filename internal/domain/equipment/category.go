package equipment

import "fmt"

// Category identifies one of the four equipment partitions. Identifiers
// (serials, internal ids, remote row ids) are unique only within a category,
// so every store and remote operation is category-scoped.
type Category string

const (
	CategoryTerminal       Category = "terminal"
	CategoryFingerScanner  Category = "finger_scanner"
	CategoryDesktopScanner Category = "desktop_scanner"
	CategoryTablet         Category = "tablet"
)

// Categories returns all equipment categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryTerminal,
		CategoryFingerScanner,
		CategoryDesktopScanner,
		CategoryTablet,
	}
}

// LoanableCategories returns the categories that participate in the
// issue/return workflow at the service counter.
func LoanableCategories() []Category {
	return []Category{CategoryTerminal, CategoryFingerScanner}
}

// ParseCategory converts a string into a Category, accepting both the
// canonical names and the remote table names.
func ParseCategory(s string) (Category, error) {
	switch s {
	case string(CategoryTerminal), "tsd":
		return CategoryTerminal, nil
	case string(CategoryFingerScanner), "finger_scanners":
		return CategoryFingerScanner, nil
	case string(CategoryDesktopScanner), "desktop_scanners":
		return CategoryDesktopScanner, nil
	case string(CategoryTablet), "tablets":
		return CategoryTablet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// TableName returns the remote table backing the category.
func (c Category) TableName() string {
	switch c {
	case CategoryTerminal:
		return "tsd"
	case CategoryFingerScanner:
		return "finger_scanners"
	case CategoryDesktopScanner:
		return "desktop_scanners"
	case CategoryTablet:
		return "tablets"
	}
	return string(c)
}

// Valid reports whether the category is one of the known partitions.
func (c Category) Valid() bool {
	switch c {
	case CategoryTerminal, CategoryFingerScanner, CategoryDesktopScanner, CategoryTablet:
		return true
	}
	return false
}

// Loanable reports whether items of this category are handed out to
// operators at the counter.
func (c Category) Loanable() bool {
	return c == CategoryTerminal || c == CategoryFingerScanner
}

// OtherLoanable returns the paired loanable category, used for the
// cross-category serial fallback during issue and return. It returns
// false for categories outside the loan workflow.
func (c Category) OtherLoanable() (Category, bool) {
	switch c {
	case CategoryTerminal:
		return CategoryFingerScanner, true
	case CategoryFingerScanner:
		return CategoryTerminal, true
	}
	return "", false
}
