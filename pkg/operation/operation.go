// Package operation describes the operation kinds the service accepts: their request
// shapes, input bounds, fingerprint fields and prompts.
package operation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"job-coordinator/pkg/job"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownKind = errors.New("unknown operation kind")
	ErrInvalid     = errors.New("invalid request")
)

// Request is a decoded, validated operation input.
type Request interface {
	Kind() job.Kind
	// Fields returns the ordered inputs that identify the result for caching.
	Fields() []string
}

// Prompter is implemented by requests answered by the language model.
type Prompter interface {
	Prompt() string
	// ResultField names the key under which the generated text is returned.
	ResultField() string
}

type SummarizeRequest struct {
	Text      string `json:"text" validate:"required,min=10,max=10000"`
	MaxLength int    `json:"max_length" validate:"min=50,max=1000"`
}

func (r *SummarizeRequest) Kind() job.Kind      { return job.KindSummarize }
func (r *SummarizeRequest) Fields() []string    { return []string{r.Text, strconv.Itoa(r.MaxLength)} }
func (r *SummarizeRequest) ResultField() string { return "summary" }
func (r *SummarizeRequest) Prompt() string {
	return fmt.Sprintf("Summarize the following text in approximately %d characters. Focus on the key points and main ideas. Reply with the summary only.\n\nText:\n%s", r.MaxLength, r.Text)
}

type QuestionAnswerRequest struct {
	Context  string `json:"context" validate:"required,min=10,max=5000"`
	Question string `json:"question" validate:"required,min=5,max=500"`
}

func (r *QuestionAnswerRequest) Kind() job.Kind      { return job.KindQuestionAnswer }
func (r *QuestionAnswerRequest) Fields() []string    { return []string{r.Context, r.Question} }
func (r *QuestionAnswerRequest) ResultField() string { return "answer" }
func (r *QuestionAnswerRequest) Prompt() string {
	return fmt.Sprintf("Answer the question using only the context below. If the context does not contain the answer, say so.\n\nContext:\n%s\n\nQuestion: %s", r.Context, r.Question)
}

type ToneRewriteRequest struct {
	Text       string `json:"text" validate:"required,min=5,max=2000"`
	TargetTone string `json:"target_tone" validate:"required,min=3,max=50"`
}

func (r *ToneRewriteRequest) Kind() job.Kind      { return job.KindToneRewrite }
func (r *ToneRewriteRequest) Fields() []string    { return []string{r.Text, r.TargetTone} }
func (r *ToneRewriteRequest) ResultField() string { return "rewritten_text" }
func (r *ToneRewriteRequest) Prompt() string {
	return fmt.Sprintf("Rewrite the following text in a %s tone without changing its meaning. Reply with the rewritten text only.\n\nText:\n%s", r.TargetTone, r.Text)
}

type TranslateRequest struct {
	Text           string `json:"text" validate:"required,min=1,max=2000"`
	TargetLanguage string `json:"target_language" validate:"required,min=2,max=20"`
	SourceLanguage string `json:"source_language,omitempty" validate:"omitempty,min=2,max=20"`
}

func (r *TranslateRequest) Kind() job.Kind { return job.KindTranslate }
func (r *TranslateRequest) Fields() []string {
	return []string{r.Text, r.TargetLanguage, r.SourceLanguage}
}
func (r *TranslateRequest) ResultField() string { return "translation" }
func (r *TranslateRequest) Prompt() string {
	from := "the source language (detect it)"
	if r.SourceLanguage != "" {
		from = r.SourceLanguage
	}
	return fmt.Sprintf("Translate the following text from %s to %s. Reply with the translation only.\n\nText:\n%s", from, r.TargetLanguage, r.Text)
}

// EchoRequest carries an arbitrary JSON object that is returned unchanged.
type EchoRequest struct {
	Body map[string]any
}

func (r *EchoRequest) Kind() job.Kind { return job.KindEcho }

// Fields uses the canonical encoding of the body; encoding/json sorts map keys.
func (r *EchoRequest) Fields() []string {
	raw, _ := json.Marshal(r.Body)
	return []string{string(raw)}
}

func (r *EchoRequest) MarshalJSON() ([]byte, error) { return json.Marshal(r.Body) }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type decoder func(raw []byte) (Request, error)

var catalog = map[job.Kind]decoder{
	job.KindSummarize: func(raw []byte) (Request, error) {
		r := &SummarizeRequest{MaxLength: 200}
		return r, decodeStruct(raw, r)
	},
	job.KindQuestionAnswer: func(raw []byte) (Request, error) {
		r := &QuestionAnswerRequest{}
		return r, decodeStruct(raw, r)
	},
	job.KindToneRewrite: func(raw []byte) (Request, error) {
		r := &ToneRewriteRequest{}
		return r, decodeStruct(raw, r)
	},
	job.KindTranslate: func(raw []byte) (Request, error) {
		r := &TranslateRequest{}
		return r, decodeStruct(raw, r)
	},
	job.KindEcho: func(raw []byte) (Request, error) {
		r := &EchoRequest{}
		if err := json.Unmarshal(raw, &r.Body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if len(r.Body) == 0 {
			return nil, fmt.Errorf("%w: body must be a non-empty JSON object", ErrInvalid)
		}
		return r, nil
	},
}

// Kinds lists the registered kinds in a stable order.
func Kinds() []job.Kind {
	kinds := make([]job.Kind, 0, len(catalog))
	for k := range catalog {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind accepts both the canonical kind and its dashed URL form
// ("question-answer" for "question_answer").
func ParseKind(s string) (job.Kind, error) {
	k := job.Kind(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	if _, ok := catalog[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Decode parses and validates a request body for kind.
func Decode(kind job.Kind, raw []byte) (Request, error) {
	dec, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return dec(raw)
}

func decodeStruct(raw []byte, dest any) error {
	// Unknown keys are ignored; stored payloads are re-encoded from dest.
	d := json.NewDecoder(bytes.NewReader(raw))
	if err := d.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := d.Token(); err != io.EOF {
		return fmt.Errorf("%w: unexpected data after JSON object", ErrInvalid)
	}
	if err := validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
