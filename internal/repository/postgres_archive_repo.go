package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/newsarchive/internal/model"
)

// archiveRow はarchive_documentsテーブルの1行。
type archiveRow struct {
	Name      string    `db:"name"`
	Version   int64     `db:"version"`
	Body      string    `db:"body"`
	UpdatedAt time.Time `db:"updated_at"`
}

// newArchiveRow はアーカイブを保存用の行に変換する。本文は他の保存先と同じ形式でエンコードする。
func newArchiveRow(name string, a *model.Archive, version int64) (archiveRow, error) {
	body, err := model.EncodeArchive(a)
	if err != nil {
		return archiveRow{}, fmt.Errorf("アーカイブのエンコードに失敗しました: %w", err)
	}
	return archiveRow{Name: name, Version: version, Body: string(body), UpdatedAt: time.Now()}, nil
}

// archive は行の本文をアーカイブに復元する。
func (row archiveRow) archive() (*model.Archive, error) {
	a, err := model.DecodeArchive([]byte(row.Body))
	if err != nil {
		return nil, fmt.Errorf("アーカイブのデコードに失敗しました: %w", err)
	}
	return a, nil
}

const (
	insertArchiveSQL = `INSERT INTO archive_documents (name, version, body, updated_at)
		 VALUES (:name, :version, :body, :updated_at)
		 ON CONFLICT (name) DO NOTHING`

	updateArchiveSQL = `UPDATE archive_documents
		 SET version = version + 1, body = :body, updated_at = :updated_at
		 WHERE name = :name AND version = :version`
)

// PostgresArchiveRepo はPostgreSQLを使用したアーカイブリポジトリ。
// archive_documentsテーブルの1行にアーカイブ全体をJSONBで保存し、
// versionカラムをバージョントークンとした楽観的ロックで書き込む。
type PostgresArchiveRepo struct {
	db   *sqlx.DB
	name string
}

// NewPostgresArchiveRepo はPostgresArchiveRepoを生成する。
func NewPostgresArchiveRepo(db *sql.DB, name string) *PostgresArchiveRepo {
	return &PostgresArchiveRepo{db: sqlx.NewDb(db, "postgres"), name: name}
}

// Describe は保存先の説明を返す。
func (r *PostgresArchiveRepo) Describe() string {
	return "postgres:archive_documents/" + r.name
}

// Read はアーカイブを取得する。行が存在しない場合はmodel.ErrArchiveNotFoundを返す。
func (r *PostgresArchiveRepo) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	var row archiveRow
	err := r.db.GetContext(ctx, &row,
		`SELECT name, version, body, updated_at FROM archive_documents WHERE name = $1`,
		r.name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", model.ErrArchiveNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("アーカイブの取得に失敗しました: %w", err)
	}

	token := versionToken(row.Version)

	archive, err := row.archive()
	if err != nil {
		return nil, token, err
	}

	return archive, token, nil
}

// Write はアーカイブを条件付きで書き込む。
// Expectedが空の場合はINSERTし、既に行があればmodel.ErrWriteConflictを返す。
// それ以外はversionが一致する行のみUPDATEする。
func (r *PostgresArchiveRepo) Write(ctx context.Context, req model.ArchiveWrite) (model.VersionToken, error) {
	row, err := newArchiveRow(r.name, req.Archive, 1)
	if err != nil {
		return "", err
	}

	if req.Expected.IsEmpty() {
		result, err := r.db.NamedExecContext(ctx, insertArchiveSQL, row)
		if err != nil {
			return "", fmt.Errorf("アーカイブの作成に失敗しました: %w", err)
		}
		if err := requireOneRow(result); err != nil {
			return "", err
		}
		return versionToken(1), nil
	}

	expected, err := strconv.ParseInt(string(req.Expected), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: 不正なバージョントークン %q", model.ErrWriteConflict, req.Expected)
	}

	row.Version = expected
	result, err := r.db.NamedExecContext(ctx, updateArchiveSQL, row)
	if err != nil {
		return "", fmt.Errorf("アーカイブの更新に失敗しました: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return "", err
	}

	return versionToken(expected + 1), nil
}

// requireOneRow は影響行数が0の場合に競合エラーを返す。
func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return model.ErrWriteConflict
	}
	return nil
}

func versionToken(version int64) model.VersionToken {
	return model.VersionToken(strconv.FormatInt(version, 10))
}
