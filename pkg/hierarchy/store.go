package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const folderColumns = `id, parent_id, owner_id, name, path, deleted_at, created_at`

// SQLFolderStore persists folders and documents
type SQLFolderStore struct {
	db *sql.DB
	q  querier
}

// NewSQLFolderStore creates a folder store on db
func NewSQLFolderStore(db *sql.DB) *SQLFolderStore {
	return &SQLFolderStore{db: db, q: db}
}

// InTx runs fn against a store bound to one transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *SQLFolderStore) InTx(ctx context.Context, fn func(tx *SQLFolderStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLFolderStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateFolder inserts a folder. The caller computes its path.
func (s *SQLFolderStore) CreateFolder(ctx context.Context, f *Folder) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO folders (id, parent_id, owner_id, name, path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.ID, nullString(f.ParentID), f.OwnerID, f.Name, f.Path, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// GetFolder returns a folder, soft-deleted or not, or ErrFolderNotFound
func (s *SQLFolderStore) GetFolder(ctx context.Context, id string) (*Folder, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1`, id)
	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return f, nil
}

// ParentOf returns the parent id of a folder, nil for a root
func (s *SQLFolderStore) ParentOf(ctx context.Context, id string) (*string, error) {
	var parentID sql.NullString
	err := s.q.QueryRowContext(ctx, `SELECT parent_id FROM folders WHERE id = $1`, id).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parent of folder: %w", err)
	}
	return stringPtr(parentID), nil
}

// ListFolders returns every folder, soft-deleted ones included
func (s *SQLFolderStore) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+folderColumns+` FROM folders ORDER BY path, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return collectFolders(rows)
}

// Descendants returns every folder below the given path
func (s *SQLFolderStore) Descendants(ctx context.Context, path string) ([]Folder, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE path LIKE $1 ESCAPE '\' ORDER BY path`,
		escapeLike(path+PathSeparator)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants: %w", err)
	}
	return collectFolders(rows)
}

// MoveFolder sets the parent and path of one folder
func (s *SQLFolderStore) MoveFolder(ctx context.Context, id string, parentID *string, path string) error {
	return s.exec(ctx, "failed to move folder",
		`UPDATE folders SET parent_id = $1, path = $2 WHERE id = $3`,
		nullString(parentID), path, id,
	)
}

// SetPath rewrites the stored path of one folder
func (s *SQLFolderStore) SetPath(ctx context.Context, id, path string) error {
	return s.exec(ctx, "failed to set folder path",
		`UPDATE folders SET path = $1 WHERE id = $2`,
		path, id,
	)
}

// SetDeleted marks folders deleted at the given time, or restores them when at is nil
func (s *SQLFolderStore) SetDeleted(ctx context.Context, ids []string, at *time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	var deletedAt interface{}
	if at != nil {
		deletedAt = *at
	}

	for _, chunk := range access.Chunk(ids, access.MaxQueryParams) {
		var b strings.Builder
		b.WriteString(`UPDATE folders SET deleted_at = $1 WHERE id IN (`)
		args := appendPlaceholders(&b, []interface{}{deletedAt}, chunk)
		b.WriteString(`)`)

		if _, err := s.q.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("failed to update deleted_at: %w", err)
		}
	}
	return nil
}

// PathsOf returns the stored path of each existing folder in ids
func (s *SQLFolderStore) PathsOf(ctx context.Context, ids []string) (map[string]string, error) {
	paths := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return paths, nil
	}

	err := s.queryPairs(ctx, `SELECT id, path FROM folders WHERE id IN (`, ids, func(id string, path sql.NullString) {
		paths[id] = path.String
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query folder paths: %w", err)
	}
	return paths, nil
}

// CreateDocument inserts a document
func (s *SQLFolderStore) CreateDocument(ctx context.Context, d *Document) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO documents (id, folder_id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, nullString(d.FolderID), d.OwnerID, d.Name, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument returns a document or ErrDocumentNotFound
func (s *SQLFolderStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var (
		d        Document
		folderID sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, folder_id, owner_id, name, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &folderID, &d.OwnerID, &d.Name, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	d.FolderID = stringPtr(folderID)
	return &d, nil
}

// DocumentFolders returns the folder of each existing document in ids. Documents
// outside any folder map to nil.
func (s *SQLFolderStore) DocumentFolders(ctx context.Context, ids []string) (map[string]*string, error) {
	folders := make(map[string]*string, len(ids))
	if len(ids) == 0 {
		return folders, nil
	}

	err := s.queryPairs(ctx, `SELECT id, folder_id FROM documents WHERE id IN (`, ids, func(id string, folderID sql.NullString) {
		folders[id] = stringPtr(folderID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query document folders: %w", err)
	}
	return folders, nil
}

// OwnersOf implements access.OwnershipLookup. Soft-deleted folders are
// treated as missing. Projects have no owners in this store.
func (s *SQLFolderStore) OwnersOf(ctx context.Context, resourceType access.ResourceType, ids []string) (map[string]string, error) {
	owners := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return owners, nil
	}

	var prefix string
	switch resourceType {
	case access.ResourceFolder:
		prefix = `SELECT id, owner_id FROM folders WHERE deleted_at IS NULL AND id IN (`
	case access.ResourceDocument:
		prefix = `SELECT id, owner_id FROM documents WHERE id IN (`
	default:
		return owners, nil
	}

	err := s.queryPairs(ctx, prefix, ids, func(id string, owner sql.NullString) {
		owners[id] = owner.String
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	return owners, nil
}

func (s *SQLFolderStore) exec(ctx context.Context, msg, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", msg, ErrFolderNotFound)
	}
	return nil
}

// queryPairs runs prefix followed by an IN list over ids, one chunk at a
// time, and hands every (id, value) row to fn.
func (s *SQLFolderStore) queryPairs(ctx context.Context, prefix string, ids []string, fn func(id string, value sql.NullString)) error {
	for _, chunk := range access.Chunk(ids, access.MaxQueryParams) {
		var b strings.Builder
		b.WriteString(prefix)
		args := appendPlaceholders(&b, nil, chunk)
		b.WriteString(`)`)
		if err := s.scanPairs(ctx, b.String(), args, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLFolderStore) scanPairs(ctx context.Context, query string, args []interface{}, fn func(id string, value sql.NullString)) error {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			value sql.NullString
		)
		if err := rows.Scan(&id, &value); err != nil {
			return err
		}
		fn(id, value)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFolder(row scanner) (*Folder, error) {
	var (
		f         Folder
		parentID  sql.NullString
		deletedAt sql.NullTime
	)
	if err := row.Scan(&f.ID, &parentID, &f.OwnerID, &f.Name, &f.Path, &deletedAt, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ParentID = stringPtr(parentID)
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return &f, nil
}

func collectFolders(rows *sql.Rows) ([]Folder, error) {
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate folders: %w", err)
	}
	return folders, nil
}

func appendPlaceholders(b *strings.Builder, args []interface{}, values []string) []interface{} {
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		args = append(args, v)
		b.WriteString("$" + strconv.Itoa(len(args)))
	}
	return args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
