// Package category defines the fixed set of activity categories every entry
// and priority weight is keyed on.
package category

import "strings"

type Category string

const (
	Sleep     Category = "Sleep"
	Work      Category = "Work"
	Hobbies   Category = "Hobbies"
	Freelance Category = "Freelance"
	Exercise  Category = "Exercise"
	Friends   Category = "Friends"
	Leisure   Category = "Leisure"
	Dating    Category = "Dating"
	Family    Category = "Family"
	Chores    Category = "Chores"
	Travel    Category = "Travel"
	Misc      Category = "Misc"
)

// All lists the categories in their canonical order. Fuzzy matching and
// report ordering both depend on this order.
var All = []Category{
	Sleep, Work, Hobbies, Freelance, Exercise, Friends,
	Leisure, Dating, Family, Chores, Travel, Misc,
}

const (
	MinWeight = 1
	MaxWeight = 5
)

// DefaultPriorities seeds the priority table on first start.
var DefaultPriorities = map[Category]int{
	Sleep:     5,
	Work:      5,
	Exercise:  5,
	Hobbies:   4,
	Freelance: 4,
	Family:    3,
	Friends:   3,
	Chores:    3,
	Leisure:   2,
	Dating:    2,
	Travel:    2,
	Misc:      1,
}

func (c Category) String() string { return string(c) }

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	_, ok := Parse(string(c))
	return ok
}

// Parse returns the category whose name equals s exactly.
func Parse(s string) (Category, bool) {
	for _, c := range All {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Match maps free-form classifier output onto a category: the first category
// (in All order) whose name appears case-insensitively inside s wins.
// Anything else is Misc.
func Match(s string) Category {
	lower := strings.ToLower(s)
	if lower == "" {
		return Misc
	}
	for _, c := range All {
		if strings.Contains(lower, strings.ToLower(string(c))) {
			return c
		}
	}
	return Misc
}

// ValidWeight reports whether w is inside the accepted 1–5 range.
func ValidWeight(w int) bool {
	return w >= MinWeight && w <= MaxWeight
}

// Names returns the category names in canonical order.
func Names() []string {
	out := make([]string, len(All))
	for i, c := range All {
		out[i] = string(c)
	}
	return out
}

// Index returns the position of c in All, or len(All) when c is unknown so
// unknown values sort last.
func Index(c Category) int {
	for i, v := range All {
		if v == c {
			return i
		}
	}
	return len(All)
}
