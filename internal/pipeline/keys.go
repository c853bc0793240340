package pipeline

import (
	"context"
	"fmt"
	"strings"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/db"
	"ai-things/audio-go/internal/utils"
)

// UploadKeys adds one key per line. Keys already in the pool are not counted.
func (s *Service) UploadKeys(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, apierr.Validation("API keys text is required")
	}
	keys := db.ParseKeys(text)
	if len(keys) == 0 {
		return 0, apierr.Validation("No valid API keys found in the uploaded file.")
	}
	if s.KeyAdmin == nil {
		return 0, fmt.Errorf("key pool is not configured")
	}
	inserted, err := s.KeyAdmin.InsertKeys(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("insert api keys: %w", err)
	}
	utils.Info("api keys uploaded", "parsed", len(keys), "inserted", inserted)
	return inserted, nil
}

func (s *Service) KeyStatus(ctx context.Context) (db.KeyStats, error) {
	if s.KeyAdmin == nil {
		return db.KeyStats{}, fmt.Errorf("key pool is not configured")
	}
	return s.KeyAdmin.KeyStats(ctx)
}
