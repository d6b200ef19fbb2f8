package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/hitoshi/newsarchive/internal/model"
)

// GitHubConfig はGitHubリポジトリ上のアーカイブファイルの設定。
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Path   string
	Branch string
	// APIURL はGitHub Enterprise等のAPIベースURL。空の場合はapi.github.com。
	APIURL string
}

// GitHubStore はGitHub Contents APIでアーカイブファイルを読み書きする。
// バージョントークンはファイルのblob SHA。
type GitHubStore struct {
	client *github.Client
	cfg    GitHubConfig
}

// NewGitHubStore はGitHubStoreを生成する。
func NewGitHubStore(ctx context.Context, cfg GitHubConfig) (*GitHubStore, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	client := github.NewClient(httpClient)

	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", cfg.APIURL, err)
		}
		client.BaseURL = u
	}

	return &GitHubStore{client: client, cfg: cfg}, nil
}

// Describe はログ出力用の保存先名を返す。
func (s *GitHubStore) Describe() string {
	d := fmt.Sprintf("github:%s/%s/%s", s.cfg.Owner, s.cfg.Repo, s.cfg.Path)
	if s.cfg.Branch != "" {
		d += "@" + s.cfg.Branch
	}
	return d
}

// Read はアーカイブファイルを取得する。1MBを超えるファイルはblob APIで取得する。
func (s *GitHubStore) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	var opts *github.RepositoryContentGetOptions
	if s.cfg.Branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: s.cfg.Branch}
	}

	fc, _, resp, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, "", model.ErrArchiveNotFound
		}
		return nil, "", fmt.Errorf("failed to get %s: %w", s.Describe(), err)
	}
	if fc == nil {
		return nil, "", fmt.Errorf("%s is not a file", s.Describe())
	}
	token := model.VersionToken(fc.GetSHA())

	var data []byte
	if fc.GetEncoding() == "none" || (fc.Content == nil && fc.GetSize() > 0) {
		data, _, err = s.client.Git.GetBlobRaw(ctx, s.cfg.Owner, s.cfg.Repo, fc.GetSHA())
		if err != nil {
			return nil, token, fmt.Errorf("failed to get blob %s: %w", fc.GetSHA(), err)
		}
	} else {
		content, err := fc.GetContent()
		if err != nil {
			return nil, token, fmt.Errorf("failed to decode %s: %w", s.Describe(), err)
		}
		data = []byte(content)
	}

	a, err := model.DecodeArchive(data)
	if err != nil {
		return nil, token, err
	}
	return a, token, nil
}

// Write はファイルをコミットする。Expectedが空の場合は新規作成、それ以外はSHAを指定した更新。
// SHAの不一致（409）や既存ファイルへの新規作成（422）は model.ErrWriteConflict として返す。
func (s *GitHubStore) Write(ctx context.Context, w model.ArchiveWrite) (model.VersionToken, error) {
	data, err := model.EncodeArchive(w.Archive)
	if err != nil {
		return "", err
	}

	msg := w.Message
	if msg == "" {
		msg = "update " + s.cfg.Path
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(msg),
		Content: data,
	}
	if s.cfg.Branch != "" {
		opts.Branch = github.String(s.cfg.Branch)
	}

	var res *github.RepositoryContentResponse
	if w.Expected.IsEmpty() {
		res, _, err = s.client.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Path, opts)
	} else {
		opts.SHA = github.String(string(w.Expected))
		res, _, err = s.client.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Path, opts)
	}
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			switch ghErr.Response.StatusCode {
			case http.StatusConflict, http.StatusUnprocessableEntity:
				return "", fmt.Errorf("%s: %w: %v", s.Describe(), model.ErrWriteConflict, err)
			}
		}
		return "", fmt.Errorf("failed to commit %s: %w", s.Describe(), err)
	}

	if res == nil || res.Content == nil {
		return "", nil
	}
	return model.VersionToken(res.Content.GetSHA()), nil
}
