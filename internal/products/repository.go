package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const productCols = `id, title, url, image, stock_status, current_price, price_history,
       alarm_price, last_etag, last_modified, shard_minute, cooldown_until,
       last_checked_at, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	var history []byte
	err := row.Scan(&p.ID, &p.Title, &p.URL, &p.Image, &p.StockStatus,
		&p.CurrentPrice, &history, &p.AlarmPrice, &p.LastETag, &p.LastModified,
		&p.ShardMinute, &p.CooldownUntil, &p.LastCheckedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &p.PriceHistory); err != nil {
		return nil, fmt.Errorf("decode price history for product %d: %w", p.ID, err)
	}
	return &p, nil
}

func (r *Repository) InsertProduct(ctx context.Context, p *Product) (int, error) {
	var id int
	err := r.db.QueryRow(ctx,
		`INSERT INTO products (title, url, image, alarm_price, shard_minute)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		p.Title, p.URL, p.Image, p.AlarmPrice, p.ShardMinute).
		Scan(&id, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) GetProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+productCols+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

func (r *Repository) GetProductByID(ctx context.Context, id int) (*Product, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) GetPriceHistory(ctx context.Context, id int) ([]PricePoint, error) {
	var history []byte
	err := r.db.QueryRow(ctx,
		`SELECT price_history FROM products WHERE id = $1`, id).Scan(&history)
	if err != nil {
		return nil, err
	}
	var points []PricePoint
	if err := json.Unmarshal(history, &points); err != nil {
		return nil, fmt.Errorf("decode price history for product %d: %w", id, err)
	}
	return points, nil
}

// UpdateAlarm replaces the alarm threshold; a value <= 0 clears the alarm.
func (r *Repository) UpdateAlarm(ctx context.Context, id int, alarmPrice float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET alarm_price = $2, updated_at = now() WHERE id = $1`,
		id, alarmPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) DeleteProduct(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FindDue returns the products assigned to the given shard minute that are
// not in an active cooldown window.
func (r *Repository) FindDue(ctx context.Context, shard int, now time.Time) ([]Product, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+productCols+` FROM products
		 WHERE shard_minute = $1
		   AND (cooldown_until IS NULL OR cooldown_until <= $2)`,
		shard, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

// SaveCheckResult persists the mutable check state of a product as a single
// atomic UPDATE (price, bounded history, validators, fetched metadata).
func (r *Repository) SaveCheckResult(ctx context.Context, p *Product) error {
	history, err := json.Marshal(p.PriceHistory)
	if err != nil {
		return fmt.Errorf("encode price history: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`UPDATE products
		 SET current_price = $2, price_history = $3::jsonb, image = $4,
		     stock_status = $5, last_etag = $6, last_modified = $7,
		     last_checked_at = $8, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.CurrentPrice, history, p.Image, p.StockStatus,
		p.LastETag, p.LastModified, p.LastCheckedAt)
	return err
}

// SetCooldown excludes a product from selection until the given time.
func (r *Repository) SetCooldown(ctx context.Context, id int, until, checkedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE products
		 SET cooldown_until = $2, last_checked_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, until, checkedAt)
	return err
}

func (r *Repository) InsertChangeRecord(ctx context.Context, rec *ChangeRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO change_records
		   (id, product_id, title, url, image, prev_price, new_price, diff, diff_pct, direction, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.ProductID, rec.Title, rec.URL, rec.Image,
		rec.PrevPrice, rec.NewPrice, rec.Diff, rec.DiffPct, rec.Direction, rec.ProcessedAt)
	return err
}

func (r *Repository) ListRecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, product_id, title, url, image, prev_price, new_price,
		        diff, diff_pct, direction, processed_at
		 FROM change_records
		 ORDER BY processed_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Title, &rec.URL, &rec.Image,
			&rec.PrevPrice, &rec.NewPrice, &rec.Diff, &rec.DiffPct, &rec.Direction,
			&rec.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BackfillChangeImages copies product images onto older change records that
// were written before images were denormalized. Returns the number of rows
// updated.
func (r *Repository) BackfillChangeImages(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE change_records cr
		 SET image = p.image
		 FROM products p
		 WHERE cr.product_id = p.id AND cr.image = '' AND p.image <> ''`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
