package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/lib/pq"
)

// PostgresCatalog reads the catalog tables maintained by the catalog admin
// service.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Variant(ctx context.Context, id string) (*Variant, error) {
	var v Variant
	err := c.db.QueryRowContext(ctx,
		`SELECT id, product_id, name, base_price, size_id, dough_id
		 FROM catalog_variants WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.ProductID, &v.Name, &v.BasePrice, &v.SizeID, &v.DoughID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query variant: %w", apperr.ErrTransient, err)
	}
	return &v, nil
}

func (c *PostgresCatalog) AddOns(ctx context.Context, ids []string) ([]AddOn, error) {
	if len(ids) == 0 {
		return []AddOn{}, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, price, image_url FROM catalog_add_ons WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query add-ons: %w", apperr.ErrTransient, err)
	}
	defer rows.Close()

	found := make(map[string]AddOn, len(ids))
	for rows.Next() {
		var a AddOn
		if err := rows.Scan(&a.ID, &a.Name, &a.Price, &a.ImageURL); err != nil {
			return nil, fmt.Errorf("%w: scan add-on: %w", apperr.ErrTransient, err)
		}
		found[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate add-ons: %w", apperr.ErrTransient, err)
	}

	out := make([]AddOn, 0, len(ids))
	for _, id := range ids {
		a, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAddOnNotFound, id)
		}
		out = append(out, a)
	}
	return out, nil
}

// UpsertVariant writes a variant. It is used to seed local environments and
// tests.
func (c *PostgresCatalog) UpsertVariant(ctx context.Context, v Variant) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO catalog_variants (id, product_id, name, base_price, size_id, dough_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET product_id = EXCLUDED.product_id, name = EXCLUDED.name, base_price = EXCLUDED.base_price,
		     size_id = EXCLUDED.size_id, dough_id = EXCLUDED.dough_id`,
		v.ID, v.ProductID, v.Name, v.BasePrice, v.SizeID, v.DoughID,
	)
	return err
}

// UpsertAddOn writes an add-on ingredient.
func (c *PostgresCatalog) UpsertAddOn(ctx context.Context, a AddOn) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO catalog_add_ons (id, name, price, image_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, price = EXCLUDED.price, image_url = EXCLUDED.image_url`,
		a.ID, a.Name, a.Price, a.ImageURL,
	)
	return err
}
