package request

import (
	"fmt"
	"strings"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/service"
	"nagare/pkg/urls"
)

// Submit is the body of POST /v1/items. Text takes precedence over URL and
// is scanned for every URL it contains.
type Submit struct {
	URL     string `json:"url"`
	Text    string `json:"text"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
	Title   string `json:"title"`
}

func (s *Submit) Validate() error {
	if strings.TrimSpace(s.URL) == "" && strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("%w: url or text is required", errs.ErrValidation)
	}

	return nil
}

// IsText reports whether the submission is free text.
func (s *Submit) IsText() bool {
	return strings.TrimSpace(s.Text) != ""
}

// IsPlaylist reports whether the submission is a single playlist URL.
func (s *Submit) IsPlaylist() bool {
	return !s.IsText() && urls.IsPlaylist(strings.TrimSpace(s.URL))
}

func (s *Submit) Request() service.SubmitRequest {
	return service.SubmitRequest{
		URL:     s.URL,
		Quality: s.Quality,
		Format:  s.Format,
		Title:   s.Title,
	}
}

// Decide is the body of POST /v1/prompts/{id}.
type Decide struct {
	Action string `json:"action"`
}

func (d *Decide) Parse() (entity.DuplicateAction, error) {
	action, ok := entity.ParseDuplicateAction(strings.ToLower(strings.TrimSpace(d.Action)))
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrInvalidAction, d.Action)
	}

	return action, nil
}

// Extract is the body of POST /v1/urls/extract.
type Extract struct {
	Text string `json:"text"`
}

func (e *Extract) Validate() error {
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("%w: text is empty", errs.ErrValidation)
	}

	return nil
}
