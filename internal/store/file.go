package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fileshare/apiserver/types"
)

// FileRepository handles persistence for uploaded files.
type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// List returns all files, newest first, with the uploader's username.
func (r *FileRepository) List(ctx context.Context) ([]types.File, error) {
	const query = `
		SELECT f.id, f.owner_id, u.username, f.blob_key, f.original_name, f.size_bytes, f.file_type, f.created_at
		FROM files f
		JOIN users u ON u.id = f.owner_id
		ORDER BY f.created_at DESC, f.id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]types.File, 0)
	for rows.Next() {
		var file types.File
		if err := rows.Scan(
			&file.ID,
			&file.OwnerID,
			&file.OwnerUsername,
			&file.BlobKey,
			&file.OriginalName,
			&file.Size,
			&file.Type,
			&file.CreatedAt,
		); err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (r *FileRepository) Get(ctx context.Context, id int64) (types.File, error) {
	const query = `
		SELECT f.id, f.owner_id, u.username, f.blob_key, f.original_name, f.size_bytes, f.file_type, f.created_at
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE f.id = $1`
	var file types.File
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&file.ID,
		&file.OwnerID,
		&file.OwnerUsername,
		&file.BlobKey,
		&file.OriginalName,
		&file.Size,
		&file.Type,
		&file.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.File{}, ErrNotFound
		}
		return types.File{}, err
	}
	return file, nil
}

func (r *FileRepository) Create(ctx context.Context, file types.File) (types.File, error) {
	file.CreatedAt = time.Now()

	const query = `
		INSERT INTO files (owner_id, blob_key, original_name, size_bytes, file_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		file.OwnerID,
		file.BlobKey,
		file.OriginalName,
		file.Size,
		file.Type,
		file.CreatedAt,
	).Scan(&file.ID); err != nil {
		return types.File{}, err
	}
	return file, nil
}
