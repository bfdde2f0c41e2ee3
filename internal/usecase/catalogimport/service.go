// Package catalogimport loads catalog items from a YAML file into the store.
package catalogimport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// File is the import document.
type File struct {
	Events []Entry `yaml:"events" validate:"dive"`
}

// Entry is one event of the import file. Tags may be a list or a comma-separated string.
type Entry struct {
	ID            int64      `yaml:"id" validate:"required,gt=0"`
	Title         string     `yaml:"title" validate:"required,max=200"`
	Description   string     `yaml:"description"`
	Category      string     `yaml:"category"`
	Tags          Tags       `yaml:"tags"`
	ScheduledDate *time.Time `yaml:"scheduled_date"`
}

// Tags accepts both `tags: [a, b]` and `tags: "a, b"`.
type Tags string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Tags) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = Tags(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = Tags(strings.Join(list, ","))
		return nil
	default:
		return fmt.Errorf("line %d: tags must be a string or a list", node.Line)
	}
}

// Result summarizes an import.
type Result struct {
	Imported int `json:"imported"`
}

// Service imports catalog files.
type Service struct {
	writer   Writer
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates an import service.
func New(w Writer, l *zap.Logger) *Service {
	return &Service{writer: w, validate: validator.New(), logger: l}
}

// Parse decodes and validates an import document. Any invalid entry rejects the whole file.
func (s *Service) Parse(data []byte) ([]domcat.Item, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode catalog file: %w", domain.ErrInvalidInput, err)
	}
	if err := s.validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err))
	}

	seen := make(map[int64]struct{}, len(f.Events))
	items := make([]domcat.Item, 0, len(f.Events))
	for i, e := range f.Events {
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: events[%d]: duplicate id %d", domain.ErrInvalidInput, i, e.ID)
		}
		seen[e.ID] = struct{}{}

		item, err := domcat.New(e.ID, e.Title, strings.TrimSpace(e.Description),
			strings.TrimSpace(e.Category), strings.TrimSpace(string(e.Tags)), e.ScheduledDate)
		if err != nil {
			return nil, fmt.Errorf("%w: events[%d]: %w", domain.ErrInvalidInput, i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Import parses data and writes every item. Re-imported items lose their embedding
// and are picked up by the next backfill.
func (s *Service) Import(ctx context.Context, data []byte) (Result, error) {
	items, err := s.Parse(data)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		s.logger.Warn("Catalog file has no events")
		return Result{}, nil
	}
	if err := s.writer.Put(ctx, items); err != nil {
		return Result{}, fmt.Errorf("store catalog: %w", err)
	}
	s.logger.Info("Catalog imported", zap.Int("events", len(items)))
	return Result{Imported: len(items)}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "File."), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
