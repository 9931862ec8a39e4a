package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"magpie/internal/model"
)

// ExportJSON writes the snapshot for id to a file in outputDir and returns
// the written path.
func (s *Store) ExportJSON(ctx context.Context, id int64, outputDir string) (string, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if acc.ResponseJSON == "" {
		return "", fmt.Errorf("account %s has no snapshot", acc.Username)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.json", acc.Username, acc.MediaType)
	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, []byte(acc.ResponseJSON), 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// ImportJSON reads a snapshot file and upserts it under the username found
// in its account metadata. Returns the imported username.
func (s *Store) ImportJSON(ctx context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read import: %w", err)
	}
	var resp model.Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return "", fmt.Errorf("parse import: %w", err)
	}
	username := strings.ToLower(resp.AccountInfo.Name)
	if username == "" {
		return "", fmt.Errorf("import file has no account name")
	}
	err = s.Upsert(ctx, Account{
		Username:     username,
		Name:         resp.AccountInfo.Nick,
		ProfileImage: resp.AccountInfo.ProfileImage,
		TotalMedia:   len(resp.Timeline),
		ResponseJSON: string(b),
		MediaType:    model.MediaAll,
		Cursor:       resp.Cursor,
		Completed:    true,
	})
	if err != nil {
		return "", err
	}
	return username, nil
}
