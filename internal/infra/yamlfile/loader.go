// Package yamlfile loads question packs from YAML files on disk, the
// default content source for a session hosted without any database.
package yamlfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"quiz-sync/internal/domain"
)

// Loader reads packs from <dir>/<packID>.yaml.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

type packFile struct {
	ID        string         `yaml:"id"`
	Questions []questionYAML `yaml:"questions"`
}

type questionYAML struct {
	ID         string   `yaml:"id"`
	Category   string   `yaml:"category"`
	Difficulty int      `yaml:"difficulty"`
	Type       string   `yaml:"type"`
	Prompt     string   `yaml:"prompt"`
	Choices    []string `yaml:"choices"`
	Answer     string   `yaml:"answer"`
	// Pointer so an explicit 0 is distinguishable from an absent field.
	AnswerIndex *int     `yaml:"answerIndex"`
	Explanation string   `yaml:"explanation"`
	MediaRefs   []string `yaml:"mediaRefs"`
}

func (l *Loader) LoadPack(_ context.Context, packID string) (domain.QuestionPack, error) {
	path := filepath.Join(l.dir, packID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.QuestionPack{}, fmt.Errorf("%w: %s", domain.ErrPackNotFound, packID)
		}
		return domain.QuestionPack{}, fmt.Errorf("read pack %s: %w", packID, err)
	}
	return Parse(packID, data)
}

// Parse decodes and validates one pack document.
func Parse(packID string, data []byte) (domain.QuestionPack, error) {
	var file packFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.QuestionPack{}, fmt.Errorf("parse pack %s: %w", packID, err)
	}
	if file.ID == "" {
		file.ID = packID
	}

	pack := domain.QuestionPack{ID: file.ID, Questions: make([]domain.Question, 0, len(file.Questions))}
	seen := make(map[string]struct{}, len(file.Questions))
	for i, q := range file.Questions {
		if q.ID == "" {
			return domain.QuestionPack{}, fmt.Errorf("pack %s: question %d has no id", packID, i)
		}
		if _, dup := seen[q.ID]; dup {
			return domain.QuestionPack{}, fmt.Errorf("pack %s: duplicate question id %q", packID, q.ID)
		}
		seen[q.ID] = struct{}{}

		qt, err := questionType(q.Type)
		if err != nil {
			return domain.QuestionPack{}, fmt.Errorf("pack %s: question %q: %w", packID, q.ID, err)
		}
		if qt != domain.TypeBuzzer {
			if len(q.Choices) == 0 {
				return domain.QuestionPack{}, fmt.Errorf("pack %s: question %q: %s question needs choices", packID, q.ID, qt)
			}
			if q.Answer == "" && q.AnswerIndex == nil {
				return domain.QuestionPack{}, fmt.Errorf("pack %s: question %q: needs an answer or answerIndex", packID, q.ID)
			}
			if q.AnswerIndex != nil && (*q.AnswerIndex < 0 || *q.AnswerIndex >= len(q.Choices)) {
				return domain.QuestionPack{}, fmt.Errorf("pack %s: question %q: answerIndex %d out of range", packID, q.ID, *q.AnswerIndex)
			}
		}
		if q.Difficulty <= 0 {
			q.Difficulty = 1
		}
		answerIndex := -1
		if q.AnswerIndex != nil {
			answerIndex = *q.AnswerIndex
		}

		pack.Questions = append(pack.Questions, domain.Question{
			ID:          q.ID,
			Category:    q.Category,
			Difficulty:  q.Difficulty,
			Type:        qt,
			Prompt:      q.Prompt,
			Choices:     q.Choices,
			Answer:      q.Answer,
			AnswerIndex: answerIndex,
			Explanation: q.Explanation,
			MediaRefs:   q.MediaRefs,
		})
	}
	return pack, nil
}

func questionType(raw string) (domain.QuestionType, error) {
	switch raw {
	case "buzzer", "open", "":
		return domain.TypeBuzzer, nil
	case "choice", "mcq":
		return domain.TypeChoice, nil
	case "truefalse", "tf":
		return domain.TypeTrueFalse, nil
	default:
		return "", fmt.Errorf("unknown question type %q", raw)
	}
}
