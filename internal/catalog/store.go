package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/postgres"
	"github.com/jackc/pgx/v5"
)

const sweetColumns = `id, name, description, price, quantity, category, created_by, created_at, updated_at`

const defaultListLimit = 200

type Store struct{ DB postgres.Querier }

func NewStore(db postgres.Querier) *Store { return &Store{DB: db} }

func scanSweet(row pgx.Row) (*Sweet, error) {
	var s Sweet
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Price, &s.Quantity,
		&s.Category, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Sweet, error) {
	sw, err := scanSweet(s.DB.QueryRow(ctx,
		`SELECT `+sweetColumns+` FROM sweets WHERE id=$1 AND deleted_at IS NULL`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, apperr.SweetNotFound(id)
		}
		return nil, postgres.Classify("get sweet", err)
	}
	return sw, nil
}

// GetForUpdate reads the sweet and holds its row lock until q's transaction ends.
func (s *Store) GetForUpdate(ctx context.Context, q postgres.Querier, id int64) (*Sweet, error) {
	sw, err := scanSweet(q.QueryRow(ctx,
		`SELECT `+sweetColumns+` FROM sweets WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, apperr.SweetNotFound(id)
		}
		return nil, postgres.Classify("lock sweet", err)
	}
	return sw, nil
}

func (s *Store) ListSweets(ctx context.Context, f Filter) ([]Sweet, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != "" {
		args = append(args, f.Name)
		where = append(where, fmt.Sprintf("name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.MinPrice != nil {
		args = append(args, *f.MinPrice)
		where = append(where, fmt.Sprintf("price >= $%d", len(args)))
	}
	if f.MaxPrice != nil {
		args = append(args, *f.MaxPrice)
		where = append(where, fmt.Sprintf("price <= $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	args = append(args, limit)

	sql := `SELECT ` + sweetColumns + ` FROM sweets WHERE deleted_at IS NULL`
	for _, w := range where {
		sql += " AND " + w
	}
	sql += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.Classify("list sweets", err)
	}
	defer rows.Close()

	out := make([]Sweet, 0)
	for rows.Next() {
		sw, err := scanSweet(rows)
		if err != nil {
			return nil, postgres.Classify("scan sweet", err)
		}
		out = append(out, *sw)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.Classify("list sweets", err)
	}
	return out, nil
}

func (s *Store) CreateSweet(ctx context.Context, sw *Sweet) error {
	if err := validate(sw); err != nil {
		return err
	}
	if sw.Quantity < 0 || sw.Quantity > MaxQuantity {
		return apperr.InvalidQuantity(0, sw.Quantity)
	}
	if sw.Category == "" {
		sw.Category = CategoryTraditional
	}
	err := s.DB.QueryRow(ctx, `
		INSERT INTO sweets(name, description, price, quantity, category, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, price, created_at, updated_at`,
		sw.Name, sw.Description, sw.Price, sw.Quantity, string(sw.Category), sw.CreatedBy,
	).Scan(&sw.ID, &sw.Price, &sw.CreatedAt, &sw.UpdatedAt)
	if err != nil {
		return postgres.Classify("create sweet", err)
	}
	return nil
}

// Save persists the descriptive fields of sw through q and refreshes
// sw.Quantity and the stored (rounded) price from the row.
func (s *Store) Save(ctx context.Context, q postgres.Querier, sw *Sweet) error {
	if err := validate(sw); err != nil {
		return err
	}
	err := q.QueryRow(ctx, `
		UPDATE sweets
		SET name=$2, description=$3, price=$4, category=$5, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING price, quantity, updated_at`,
		sw.ID, sw.Name, sw.Description, sw.Price, string(sw.Category),
	).Scan(&sw.Price, &sw.Quantity, &sw.UpdatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return apperr.SweetNotFound(sw.ID)
		}
		return postgres.Classify("save sweet", err)
	}
	return nil
}

// Update is Save outside of any caller transaction.
func (s *Store) Update(ctx context.Context, sw *Sweet) error {
	return s.Save(ctx, s.DB, sw)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	ct, err := s.DB.Exec(ctx,
		`UPDATE sweets SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return postgres.Classify("delete sweet", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.SweetNotFound(id)
	}
	return nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold, limit int) ([]Sweet, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.DB.Query(ctx, `SELECT `+sweetColumns+` FROM sweets
		WHERE deleted_at IS NULL AND quantity <= $1
		ORDER BY quantity, id LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, postgres.Classify("list low stock", err)
	}
	defer rows.Close()

	var out []Sweet
	for rows.Next() {
		sw, err := scanSweet(rows)
		if err != nil {
			return nil, postgres.Classify("scan sweet", err)
		}
		out = append(out, *sw)
	}
	return out, rows.Err()
}

func validate(sw *Sweet) error {
	if strings.TrimSpace(sw.Name) == "" {
		return apperr.InvalidInput("name is required")
	}
	if sw.Price.IsNegative() {
		return apperr.InvalidInput("price must be >= 0")
	}
	// NUMERIC(10,2) rounds half up before the range check
	if sw.Price.Round(2).GreaterThan(MaxPrice) {
		return apperr.InvalidInput("price must be at most " + MaxPrice.StringFixed(2))
	}
	if sw.Category != "" && !sw.Category.Valid() {
		return apperr.InvalidInput(fmt.Sprintf("unknown category %q", sw.Category))
	}
	return nil
}
