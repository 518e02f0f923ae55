package photo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makwanas/TripHouse/internal/entities"
)

// ErrNotFound means no photo record exists for the given id.
var ErrNotFound = errors.New("photo: not found")

type Store struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Store{dbpool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

func (s *Store) Close() {
	s.dbpool.Close()
}

const photoColumns = `id, lodging_id, user_id, caption, content_type, filename,
	size, width, height, derivatives, created_timestamp, updated_timestamp`

func scanPhoto(row pgx.Row) (entities.Photo, error) {
	var p entities.Photo
	err := row.Scan(&p.ID, &p.LodgingID, &p.UserID, &p.Caption, &p.ContentType,
		&p.Filename, &p.Size, &p.Width, &p.Height, &p.Derivatives,
		&p.CreatedTimestamp, &p.UpdatedTimestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entities.Photo{}, ErrNotFound
		}
		return entities.Photo{}, err
	}
	return p, nil
}

// Insert creates the record for a freshly uploaded original. The caller
// assigns the id and canonical filename before storing the blob, so the two
// can reference each other.
func (s *Store) Insert(ctx context.Context, p entities.Photo) (entities.Photo, error) {
	row := s.dbpool.QueryRow(ctx, `
		INSERT INTO photos (id, lodging_id, user_id, caption, content_type, filename, size, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+photoColumns,
		p.ID, p.LodgingID, p.UserID, p.Caption, p.ContentType, p.Filename, p.Size, p.Width, p.Height)
	return scanPhoto(row)
}

func (s *Store) GetByID(ctx context.Context, id string) (entities.Photo, error) {
	row := s.dbpool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id)
	return scanPhoto(row)
}

func (s *Store) GetByLodgingID(ctx context.Context, lodgingID string) ([]entities.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos WHERE lodging_id = $1 ORDER BY created_timestamp`, lodgingID)
}

func (s *Store) GetByUserID(ctx context.Context, userID string) ([]entities.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos WHERE user_id = $1 ORDER BY created_timestamp`, userID)
}

func (s *Store) list(ctx context.Context, query string, arg any) ([]entities.Photo, error) {
	rows, err := s.dbpool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	photos := make([]entities.Photo, 0)
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// SetDerivatives commits the worker's complete derivative map and the
// canonical original filename in a single statement. Ownership and caption
// fields are never touched here, so unrelated concurrent edits stay safe
// under last-writer-wins.
func (s *Store) SetDerivatives(ctx context.Context, id, filename string, d entities.Derivatives) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE photos SET derivatives = $2, filename = $3, updated_timestamp = now()
		WHERE id = $1`,
		id, d, filename)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateCaption(ctx context.Context, id string, caption *string) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE photos SET caption = $2, updated_timestamp = now()
		WHERE id = $1`,
		id, caption)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.dbpool.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
