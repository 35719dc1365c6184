package testhelpers

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Customer - строка фикстуры customers. Lat/Lng == nil означает запись без координат.
type Customer struct {
	FullName string   `db:"full_name"`
	Category string   `db:"category"`
	Currency string   `db:"currency"`
	Balance  float64  `db:"balance"`
	Lat      *float64 `db:"lat"`
	Lng      *float64 `db:"lng"`
}

// At - хелпер для координат фикстуры
func At(lat, lng float64) (*float64, *float64) {
	return &lat, &lng
}

// LoadCustomers вставляет фикстуры и возвращает присвоенные ID в том же порядке
func LoadCustomers(ctx context.Context, db *sqlx.DB, customers []Customer) ([]int64, error) {
	ids := make([]int64, 0, len(customers))
	for i, c := range customers {
		rows, err := db.NamedQueryContext(ctx, `
			INSERT INTO customers (full_name, category, currency, balance, lat, lng)
			VALUES (:full_name, :category, :currency, :balance, :lat, :lng)
			RETURNING id`, c)
		if err != nil {
			return nil, fmt.Errorf("insert customer %d: %w", i, err)
		}
		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan customer id %d: %w", i, err)
			}
		}
		rows.Close()
		ids = append(ids, id)
	}
	return ids, nil
}
