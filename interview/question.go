package interview

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoQuestions  = errors.New("interview: question list is empty")
	ErrEmptyPrompt  = errors.New("interview: question prompt is empty")
	ErrEmptyKey     = errors.New("interview: question key is empty")
	ErrDuplicateKey = errors.New("interview: duplicate question key")
)

// Question is one scripted prompt and the key its answer is stored under.
type Question struct {
	Prompt string `yaml:"prompt" json:"prompt"`
	Key    string `yaml:"key,omitempty" json:"key"`
}

// boilerplate removed from a prompt when deriving its key, applied in order
var keyPrefixes = []string{
	"what is your ",
	"what are some things you ",
	"where is your ",
}

// whole-phrase rewrites applied after prefixes and "?" are gone
var keyPhrases = []struct{ phrase, key string }{
	{"what city would you love to live in someday", "dream city"},
	{"how tall are you", "height"},
}

// NormalizeKey derives the answer key for a prompt: lowercase, strip the
// boilerplate prefixes and question marks, then rewrite known phrasings.
//
//	NormalizeKey("What is your name?")                            // "name"
//	NormalizeKey("What city would you love to live in someday?") // "dream city"
func NormalizeKey(prompt string) string {
	key := strings.ToLower(prompt)
	for _, p := range keyPrefixes {
		key = strings.ReplaceAll(key, p, "")
	}
	key = strings.ReplaceAll(key, "?", "")
	for _, r := range keyPhrases {
		key = strings.ReplaceAll(key, r.phrase, r.key)
	}
	return strings.TrimSpace(key)
}

// QuestionSet is an immutable, validated, ordered list of questions with
// unique keys.
type QuestionSet struct {
	questions []Question
}

// NewQuestionSet validates questions and fills in missing keys with
// NormalizeKey. The input slice is copied.
func NewQuestionSet(questions []Question) (*QuestionSet, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	out := make([]Question, 0, len(questions))
	seen := make(map[string]int, len(questions))
	for i, q := range questions {
		prompt := strings.TrimSpace(q.Prompt)
		if prompt == "" {
			return nil, fmt.Errorf("question %d: %w", i+1, ErrEmptyPrompt)
		}
		key := strings.TrimSpace(q.Key)
		if key == "" {
			key = NormalizeKey(prompt)
		}
		if key == "" {
			return nil, fmt.Errorf("question %d (%q): %w", i+1, prompt, ErrEmptyKey)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("questions %d and %d share key %q: %w", prev+1, i+1, key, ErrDuplicateKey)
		}
		seen[key] = i
		out = append(out, Question{Prompt: prompt, Key: key})
	}
	return &QuestionSet{questions: out}, nil
}

// DefaultQuestions is the soul-match profile interview.
func DefaultQuestions() []Question {
	return []Question{
		{Prompt: "What is your name?"},
		{Prompt: "What city would you love to live in someday?"},
		{Prompt: "Where is your hometown?"},
		{Prompt: "What are some things you like?"},
		{Prompt: "What are some things you dislike?"},
		{Prompt: "How tall are you?"},
	}
}

// DefaultQuestionSet returns DefaultQuestions validated.
func DefaultQuestionSet() *QuestionSet {
	qs, err := NewQuestionSet(DefaultQuestions())
	if err != nil {
		panic(err)
	}
	return qs
}

func (s *QuestionSet) Len() int {
	return len(s.questions)
}

func (s *QuestionSet) At(i int) Question {
	return s.questions[i]
}

// Keys returns the answer keys in question order.
func (s *QuestionSet) Keys() []string {
	keys := make([]string, len(s.questions))
	for i, q := range s.questions {
		keys[i] = q.Key
	}
	return keys
}

// Questions returns a copy of the ordered questions.
func (s *QuestionSet) Questions() []Question {
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}
