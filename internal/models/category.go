package models

import "fmt"

// Category classifies subscriptions and transactions.
type Category string

const (
	CategoryEntertainment Category = "entertainment"
	CategoryMusic         Category = "music"
	CategoryProductivity  Category = "productivity"
	CategoryCloud         Category = "cloud"
	CategoryNews          Category = "news"
	CategoryGaming        Category = "gaming"
	CategoryFitness       Category = "fitness"
	CategoryEducation     Category = "education"
	CategoryUtilities     Category = "utilities"
	CategoryFood          Category = "food"
	CategoryShopping      Category = "shopping"
	CategoryTransport     Category = "transport"
	CategoryFinance       Category = "finance"
	CategoryOther         Category = "other"
)

// CategoryDisplay holds the presentation attributes of a category.
type CategoryDisplay struct {
	Label string
	Color string // hex RGB
	Icon  string // symbol name
}

// AllCategories lists every category.
func AllCategories() []Category {
	return []Category{
		CategoryEntertainment,
		CategoryMusic,
		CategoryProductivity,
		CategoryCloud,
		CategoryNews,
		CategoryGaming,
		CategoryFitness,
		CategoryEducation,
		CategoryUtilities,
		CategoryFood,
		CategoryShopping,
		CategoryTransport,
		CategoryFinance,
		CategoryOther,
	}
}

// ParseCategory converts a string to a Category. The empty string maps to
// CategoryOther.
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryOther, nil
	}
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	_, ok := categoryDisplays[c]
	return ok
}

// Display returns the display attributes for c. Unknown values render as
// CategoryOther.
func (c Category) Display() CategoryDisplay {
	if d, ok := categoryDisplays[c]; ok {
		return d
	}
	return categoryDisplays[CategoryOther]
}

var categoryDisplays = map[Category]CategoryDisplay{
	CategoryEntertainment: {Label: "Entertainment", Color: "#E74C3C", Icon: "tv"},
	CategoryMusic:         {Label: "Music", Color: "#9B59B6", Icon: "music.note"},
	CategoryProductivity:  {Label: "Productivity", Color: "#3498DB", Icon: "briefcase"},
	CategoryCloud:         {Label: "Cloud Storage", Color: "#5DADE2", Icon: "cloud"},
	CategoryNews:          {Label: "News", Color: "#7F8C8D", Icon: "newspaper"},
	CategoryGaming:        {Label: "Gaming", Color: "#27AE60", Icon: "gamecontroller"},
	CategoryFitness:       {Label: "Health & Fitness", Color: "#E67E22", Icon: "heart"},
	CategoryEducation:     {Label: "Education", Color: "#F1C40F", Icon: "book"},
	CategoryUtilities:     {Label: "Utilities", Color: "#34495E", Icon: "bolt"},
	CategoryFood:          {Label: "Food & Dining", Color: "#D35400", Icon: "fork.knife"},
	CategoryShopping:      {Label: "Shopping", Color: "#C0392B", Icon: "bag"},
	CategoryTransport:     {Label: "Transport", Color: "#16A085", Icon: "car"},
	CategoryFinance:       {Label: "Finance", Color: "#2ECC71", Icon: "dollarsign.circle"},
	CategoryOther:         {Label: "Other", Color: "#95A5A6", Icon: "square.grid.2x2"},
}
