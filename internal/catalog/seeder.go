// Package catalog seeds the event catalog from a YAML file at startup.
// Seeding runs once per process and is idempotent: existing events keep
// their counters and only refresh descriptive fields.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/logger"
	"github.com/webibook/analytics/internal/store"
)

type seedFile struct {
	Events []seedEvent `yaml:"events"`
}

type seedEvent struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Topic    string `yaml:"topic"`
	Schedule string `yaml:"schedule"`
	Audience string `yaml:"audience"`
	URL      string `yaml:"url"`
}

// Seed loads the seed file and upserts each event. Events already present
// in the store keep their saved/click counts. A missing path is not an
// error; the catalog then grows only through self-healing clicks.
func Seed(ctx context.Context, s store.Store, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("catalog seed file missing, starting with empty catalog", "path", path)
			return nil
		}
		return fmt.Errorf("reading catalog seed %s: %w", path, err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing catalog seed %s: %w", path, err)
	}

	seeded := 0
	for _, se := range file.Events {
		if se.ID == "" {
			continue
		}
		event := &domain.Event{
			ID:       se.ID,
			Title:    se.Title,
			Topic:    se.Topic,
			Schedule: se.Schedule,
			Audience: se.Audience,
			URL:      se.URL,
		}
		if existing, err := s.GetEvent(ctx, se.ID); err == nil {
			event.SavedCount = existing.SavedCount
			event.ClickCount = existing.ClickCount
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("checking event %s: %w", se.ID, err)
		}
		if err := s.UpsertEvent(ctx, event); err != nil {
			return fmt.Errorf("seeding event %s: %w", se.ID, err)
		}
		seeded++
	}

	logger.Info("catalog seeded", "events", fmt.Sprintf("%d", seeded), "path", path)
	return nil
}
