package timetable

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"unibus/internal/domain"
)

// FileSource reads the timetable from a YAML file. Entries failing
// validation reject the whole load, so a half-broken feed never replaces a
// good one.
type FileSource struct {
	path     string
	validate *validator.Validate
}

func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:     path,
		validate: validator.New(),
	}
}

type timetableFile struct {
	Entries []domain.TimetableEntry `yaml:"entries"`
}

func (f *FileSource) Load(ctx context.Context) ([]domain.TimetableEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read timetable file: %w", err)
	}

	var file timetableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse timetable yaml: %w", err)
	}

	for i, entry := range file.Entries {
		if err := f.validate.Struct(entry); err != nil {
			return nil, fmt.Errorf("timetable entry %d invalid: %w", i, err)
		}
	}

	return file.Entries, nil
}
