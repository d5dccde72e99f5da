package menu

import "context"

// DemoStore serves a fixed sample menu so the binary runs end to end
// without a database. Any token resolves to the same scope.
type DemoStore struct {
	scope Scope
}

func NewDemoStore() *DemoStore {
	products := []Product{
		{ID: 1, Name: "Lahmacun", Description: "İnce hamur, kıymalı", Price: 85, Category: "Ana Yemekler"},
		{ID: 2, Name: "Adana Kebap", Description: "Acılı, közlenmiş biber ve domates ile", Price: 240, Category: "Ana Yemekler"},
		{ID: 3, Name: "Mercimek Çorbası", Description: "Günün çorbası, limon ile", Price: 60, Category: "Çorbalar"},
		{ID: 4, Name: "Ayran", Description: "Ev yapımı", Price: 30, Category: "İçecekler", Allergens: []Allergen{{ID: 1, Name: "Süt"}}},
		{ID: 5, Name: "Künefe", Description: "Antep fıstıklı, sıcak servis", Price: 150, Category: "Tatlılar", Allergens: []Allergen{{ID: 1, Name: "Süt"}, {ID: 2, Name: "Gluten"}}},
		{ID: 6, Name: "Çoban Salata", Description: "Domates, salatalık, biber, soğan", Price: 70, Category: "Salatalar"},
	}
	return &DemoStore{
		scope: Scope{
			ScopeID:     "demo/1",
			TableName:   "Demo Masa",
			Products:    products,
			MenuContext: BuildMenuContext(products),
		},
	}
}

func (s *DemoStore) LookupScope(_ context.Context, tableToken string) (Scope, error) {
	if tableToken == "" {
		return Scope{}, ErrScopeNotFound
	}
	return s.scope, nil
}
