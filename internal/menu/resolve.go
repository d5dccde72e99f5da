package menu

import "strings"

// DefaultRecommendationReason is used when the model recommends a product
// without explaining why.
const DefaultRecommendationReason = "Size özel öneri"

// RecommendedProduct is the wire payload for a recommendation event: the
// full product record plus the assistant's reason.
type RecommendedProduct struct {
	Product
	Reason string `json:"reason"`
}

// ResolveRecommendation matches the model's recommendation against the
// session's product snapshot. Lookup by ID wins; otherwise the first product
// whose name contains the given name (case-insensitive) is used. Returns
// false when nothing in the snapshot matches, in which case the caller
// suppresses the event rather than recommending a phantom product.
func ResolveRecommendation(products []Product, productID int64, productName, reason string) (RecommendedProduct, bool) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRecommendationReason
	}

	if productID > 0 {
		for _, p := range products {
			if p.ID == productID {
				return RecommendedProduct{Product: p, Reason: reason}, true
			}
		}
	}

	name := strings.ToLower(strings.TrimSpace(productName))
	if name == "" {
		return RecommendedProduct{}, false
	}
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), name) {
			return RecommendedProduct{Product: p, Reason: reason}, true
		}
	}
	return RecommendedProduct{}, false
}
