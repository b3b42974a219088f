package biodata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"soulagent/core"
	"soulagent/storage"
)

// Fields are the profile items the interview collects, in question order.
var Fields = []string{"name", "dream_city", "hometown", "likes", "dislikes", "height"}

const extractionPrompt = `You extract a dating profile from an interview transcript.
Return a JSON object with exactly these string fields: name, dream_city, hometown, likes, dislikes, height.
Use the user's own words. Use an empty string for anything the user did not say. Do not guess.`

var ErrEmptyTranscript = errors.New("biodata: session has no user messages")

// JSONGenerator returns a JSON object completion for a chat context.
type JSONGenerator interface {
	GenerateJsonOutput(ctx context.Context, llmContext core.LLMContext) (map[string]any, error)
}

type Store interface {
	Transcript(ctx context.Context, sessionID string) ([]storage.Message, error)
	InterviewStatus(ctx context.Context, sessionID string) (*storage.InterviewStatus, error)
	SaveBiodata(ctx context.Context, b *storage.Biodata) error
}

// Extractor turns a stored transcript into a storage.Biodata record. It
// implements interview.BiodataExtractor.
type Extractor struct {
	llm    JSONGenerator
	store  Store
	logger *core.Logger
}

func NewExtractor(llm JSONGenerator, store Store, logger *core.Logger) *Extractor {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Extractor{
		llm:    llm,
		store:  store,
		logger: logger.With(map[string]interface{}{"component": "biodata"}),
	}
}

func (e *Extractor) ExtractBiodata(ctx context.Context, sessionID string) error {
	_, err := e.Extract(ctx, sessionID)
	return err
}

// Extract reads the transcript of sessionID, asks the LLM for the profile
// fields and saves the result. The profile is complete only when the
// interview itself finished and the LLM found every field.
func (e *Extractor) Extract(ctx context.Context, sessionID string) (*storage.Biodata, error) {
	finished, err := e.interviewFinished(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.store.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	transcript, ok := formatTranscript(msgs)
	if !ok {
		return nil, ErrEmptyTranscript
	}

	var llmContext core.LLMContext
	llmContext.AddSystemMessage(extractionPrompt)
	llmContext.AddUserMessage(transcript)

	out, err := e.llm.GenerateJsonOutput(ctx, llmContext)
	if err != nil {
		return nil, fmt.Errorf("biodata: generate: %w", err)
	}

	b := fromJSON(sessionID, out, finished)
	if err := e.store.SaveBiodata(ctx, b); err != nil {
		return nil, err
	}
	e.logger.Info("biodata extracted", "session_id", sessionID, "complete", b.Complete, "missing", b.Missing)
	return b, nil
}

// interviewFinished reports whether the interview of sessionID answered every
// question. A session without a recorded status counts as unfinished.
func (e *Extractor) interviewFinished(ctx context.Context, sessionID string) (bool, error) {
	st, err := e.store.InterviewStatus(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("no interview status, profile marked incomplete", "session_id", sessionID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Complete, nil
}

func formatTranscript(msgs []storage.Message) (string, bool) {
	var sb strings.Builder
	hasUser := false
	for _, m := range msgs {
		if m.Role == string(core.LLMMessageRoleUser) {
			hasUser = true
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Text)
		sb.WriteByte('\n')
	}
	return sb.String(), hasUser
}

func fromJSON(sessionID string, out map[string]any, finished bool) *storage.Biodata {
	values := make(map[string]string, len(Fields))
	var missing []string
	for _, f := range Fields {
		v := stringValue(out[f])
		if v == "" {
			missing = append(missing, f)
		}
		values[f] = v
	}
	return &storage.Biodata{
		SessionID: sessionID,
		Name:      values["name"],
		DreamCity: values["dream_city"],
		Hometown:  values["hometown"],
		Likes:     values["likes"],
		Dislikes:  values["dislikes"],
		Height:    values["height"],
		Missing:   missing,
		Complete:  finished && len(missing) == 0,
	}
}

// stringValue flattens what models return for a field: strings, numbers or
// lists of strings.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := sonic.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
