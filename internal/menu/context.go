package menu

import (
	"fmt"
	"sort"
	"strings"
)

// BuildMenuContext renders the product snapshot into the compact text block
// the assistant prompt embeds. Products are grouped by category; each line
// carries the numeric ID so the model can reference products exactly.
func BuildMenuContext(products []Product) string {
	if len(products) == 0 {
		return "Menü boş."
	}

	byCategory := make(map[string][]Product)
	categories := make([]string, 0)
	for _, p := range products {
		category := p.Category
		if category == "" {
			category = "Diğer"
		}
		if _, seen := byCategory[category]; !seen {
			categories = append(categories, category)
		}
		byCategory[category] = append(byCategory[category], p)
	}
	sort.Strings(categories)

	var b strings.Builder
	for i, category := range categories {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", category)
		for _, p := range byCategory[category] {
			fmt.Fprintf(&b, "ID:%d | %s | %.0f₺ | %s", p.ID, p.Name, p.Price, p.Description)
			if len(p.Allergens) > 0 {
				names := make([]string, 0, len(p.Allergens))
				for _, a := range p.Allergens {
					names = append(names, a.Name)
				}
				fmt.Fprintf(&b, " [Alerjen: %s]", strings.Join(names, ", "))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
