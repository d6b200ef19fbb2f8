// Package repository はアーカイブ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"

	"github.com/hitoshi/newsarchive/internal/model"
)

// ArchiveRepository はアーカイブドキュメントの条件付き読み書きインターフェース。
// すべてのバックエンド（GitHub、S3、PostgreSQL、ローカルファイル）が実装する。
type ArchiveRepository interface {
	// Read はアーカイブとバージョントークンを取得する。
	// 存在しない場合はmodel.ErrArchiveNotFoundを返す。
	// 内容が壊れている場合も、バックエンドがトークンを把握していればトークンを返す。
	Read(ctx context.Context) (*model.Archive, model.VersionToken, error)

	// Write はアーカイブ全体を条件付きで書き込み、新しいトークンを返す。
	// Expectedが空の場合は新規作成のみ許可する。
	// トークンが一致しない場合はmodel.ErrWriteConflictを返す。
	Write(ctx context.Context, req model.ArchiveWrite) (model.VersionToken, error)

	// Describe はログ出力用の保存先の説明を返す。
	Describe() string
}
