package duplicate

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/pkg/gen"
)

// Prompt is a duplicate decision waiting for the user.
type Prompt struct {
	ID          string                   `json:"id"`
	URL         string                   `json:"url"`
	Title       string                   `json:"title,omitempty"`
	Kind        entity.DuplicateKind     `json:"kind"`
	ExistingRef string                   `json:"existingRef"`
	Options     []entity.DuplicateAction `json:"options"`
	CreatedAt   time.Time                `json:"createdAt"`
}

// Options lists the answers a prompt of kind accepts.
func Options(kind entity.DuplicateKind) []entity.DuplicateAction {
	if kind == entity.DuplicateKindURL {
		return []entity.DuplicateAction{entity.DuplicateActionAllow, entity.DuplicateActionSkip}
	}

	return []entity.DuplicateAction{
		entity.DuplicateActionOverwrite, entity.DuplicateActionRename, entity.DuplicateActionSkip,
	}
}

type request struct {
	prompt Prompt
	reply  chan entity.DuplicateAction
}

// Prompts serializes duplicate decisions. The slot holds the one outstanding
// prompt, later prompts wait in backlog in arrival order. Each reply channel
// has capacity one so Answer never blocks on a departed waiter.
type Prompts struct {
	mu      sync.Mutex
	slot    chan *request
	backlog []*request
	closed  bool
	now     func() time.Time
}

func NewPrompts() *Prompts {
	return &Prompts{
		slot: make(chan *request, 1),
		now:  time.Now,
	}
}

// Ask registers p and returns its id together with the channel its answer is
// delivered on. The channel is closed without a value when the prompts are closed.
func (p *Prompts) Ask(prompt Prompt) (string, <-chan entity.DuplicateAction) {
	prompt.ID = gen.ID()
	prompt.CreatedAt = p.now()

	if len(prompt.Options) == 0 {
		prompt.Options = Options(prompt.Kind)
	}

	req := &request{prompt: prompt, reply: make(chan entity.DuplicateAction, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(req.reply)

		return prompt.ID, req.reply
	}

	select {
	case p.slot <- req:
	default:
		p.backlog = append(p.backlog, req)
	}

	return prompt.ID, req.reply
}

// Current returns the outstanding prompt.
func (p *Prompts) Current() (Prompt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := p.peek()
	if req == nil {
		return Prompt{}, false
	}

	return req.prompt, true
}

// Pending returns how many prompts wait for an answer, the outstanding one included.
func (p *Prompts) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.slot) + len(p.backlog)
}

// Answer resolves the outstanding prompt and promotes the next one.
func (p *Prompts) Answer(id string, action entity.DuplicateAction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := p.peek()
	if req == nil || req.prompt.ID != id {
		return fmt.Errorf("answer prompt %s: %w", id, errs.ErrPromptNotFound)
	}

	if !slices.Contains(req.prompt.Options, action) {
		return fmt.Errorf("answer prompt %s with %q: %w", id, action, errs.ErrInvalidAction)
	}

	<-p.slot
	req.reply <- action
	close(req.reply)

	if len(p.backlog) > 0 {
		p.slot <- p.backlog[0]
		p.backlog = p.backlog[1:]
	}

	return nil
}

// Close releases every waiter. Later Asks are released immediately.
func (p *Prompts) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	select {
	case req := <-p.slot:
		close(req.reply)
	default:
	}

	for _, req := range p.backlog {
		close(req.reply)
	}

	p.backlog = nil
}

// peek reads the slot without consuming it. Callers hold mu.
func (p *Prompts) peek() *request {
	select {
	case req := <-p.slot:
		p.slot <- req

		return req
	default:
		return nil
	}
}

// Await blocks until reply delivers an answer. ok is false when ctx ends or
// the prompts were closed first.
func Await(ctx context.Context, reply <-chan entity.DuplicateAction) (entity.DuplicateAction, bool) {
	select {
	case action, ok := <-reply:
		return action, ok
	case <-ctx.Done():
		return "", false
	}
}
