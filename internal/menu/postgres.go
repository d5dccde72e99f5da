package menu

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads table tokens and menu snapshots from the restaurant
// database. The schema is owned by the ordering backend; this service only
// queries it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) LookupScope(ctx context.Context, tableToken string) (Scope, error) {
	var restaurantID int64
	var tableID int64
	var tableName string

	err := s.pool.QueryRow(ctx,
		`SELECT t.id, t.restaurant_id, t.name
		 FROM tables t
		 WHERE t.qr_token=$1 AND t.is_active`,
		tableToken,
	).Scan(&tableID, &restaurantID, &tableName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scope{}, ErrScopeNotFound
		}
		return Scope{}, fmt.Errorf("lookup table: %w", err)
	}

	products, err := s.loadProducts(ctx, restaurantID)
	if err != nil {
		return Scope{}, err
	}

	return Scope{
		ScopeID:     fmt.Sprintf("%d/%d", restaurantID, tableID),
		TableName:   tableName,
		Products:    products,
		MenuContext: BuildMenuContext(products),
	}, nil
}

func (s *PostgresStore) loadProducts(ctx context.Context, restaurantID int64) ([]Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, COALESCE(p.description, ''), p.price,
		        COALESCE(c.name, ''), COALESCE(p.image_url, '')
		 FROM products p
		 LEFT JOIN categories c ON c.id = p.category_id
		 WHERE p.restaurant_id=$1 AND p.is_available
		 ORDER BY c.name, p.name`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, 32)
	index := make(map[int64]int)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.ImageURL); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	allergenRows, err := s.pool.Query(ctx,
		`SELECT pa.product_id, a.id, a.name, COALESCE(a.icon, '')
		 FROM product_allergens pa
		 JOIN allergens a ON a.id = pa.allergen_id
		 JOIN products p ON p.id = pa.product_id
		 WHERE p.restaurant_id=$1`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query allergens: %w", err)
	}
	defer allergenRows.Close()

	for allergenRows.Next() {
		var productID int64
		var a Allergen
		if err := allergenRows.Scan(&productID, &a.ID, &a.Name, &a.Icon); err != nil {
			return nil, fmt.Errorf("scan allergen: %w", err)
		}
		if i, ok := index[productID]; ok {
			products[i].Allergens = append(products[i].Allergens, a)
		}
	}
	if err := allergenRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allergens: %w", err)
	}

	return products, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
