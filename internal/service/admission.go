package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nagare/internal/duplicate"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/metadata"
	"nagare/internal/quality"
	"nagare/pkg/calc"
	"nagare/pkg/fsname"
	"nagare/pkg/gen"
	"nagare/pkg/urls"
)

// Outcome is the result class of a submission.
type Outcome string

const (
	// OutcomeAdmitted means an item was created.
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeSkipped means a skip policy dropped the submission.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDuplicate means a duplicate prompt was answered with skip.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomePending means the submission waits for a duplicate prompt answer.
	OutcomePending Outcome = "pending"
)

// SubmitRequest is one URL to admit. Empty Quality and Format fall back to the settings.
type SubmitRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
	Format  string `json:"format,omitempty"`
	// Title is a pre-known title. It enables the file duplicate probe.
	Title string `json:"title,omitempty"`
}

// Admission reports what happened to a submission.
type Admission struct {
	Outcome     Outcome              `json:"outcome"`
	URL         string               `json:"url"`
	Item        *entity.DownloadItem `json:"item,omitempty"`
	PromptID    string               `json:"promptId,omitempty"`
	Kind        entity.DuplicateKind `json:"duplicateKind,omitempty"`
	ExistingRef string               `json:"existingRef,omitempty"`
	Warning     string               `json:"warning,omitempty"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (a Admission) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("outcome", string(a.Outcome)),
		slog.String("url", a.URL),
	}

	if a.Item != nil {
		attrs = append(attrs, slog.String("id", a.Item.ID))
	}

	if a.PromptID != "" {
		attrs = append(attrs, slog.String("prompt_id", a.PromptID))
	}

	if a.ExistingRef != "" {
		attrs = append(attrs, slog.String("existing_ref", a.ExistingRef))
	}

	return slog.GroupValue(attrs...)
}

// candidate is a validated submission.
type candidate struct {
	req     SubmitRequest
	verdict duplicate.Verdict
}

// Submit admits one URL as a single item. Playlists are expanded only by
// SubmitBatch and SubmitText.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (Admission, error) {
	v, err := validate(req)
	if err != nil {
		return Admission{}, err
	}

	out, err := q.admitAll(ctx, []SubmitRequest{v})
	if err != nil {
		return Admission{}, err
	}

	return out[0], nil
}

// SubmitBatch admits every request in order. Either all requests are valid
// or none is admitted. A playlist URL is replaced by its entries. Metadata for
// the admitted items is fetched as one batch.
func (q *Queue) SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]Admission, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: %w", errs.ErrValidation, errs.ErrNoURLs)
	}

	valid := make([]SubmitRequest, len(reqs))

	for i, req := range reqs {
		v, err := validate(req)
		if err != nil {
			return nil, err
		}

		valid[i] = v
	}

	expanded, err := q.expandPlaylists(ctx, valid)
	if err != nil {
		return nil, err
	}

	return q.admitAll(ctx, expanded)
}

// expandPlaylists replaces every playlist request by one request per entry,
// up to the configured limit. Entries inherit quality and format.
func (q *Queue) expandPlaylists(ctx context.Context, reqs []SubmitRequest) ([]SubmitRequest, error) {
	if q.lists == nil {
		return reqs, nil
	}

	out := make([]SubmitRequest, 0, len(reqs))

	for _, req := range reqs {
		if !urls.IsPlaylist(req.URL) {
			out = append(out, req)

			continue
		}

		entries, err := q.fetchPlaylist(ctx, req.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errs.ErrPlaylist, req.URL, err)
		}

		n := 0

		for _, e := range entries {
			if q.cfg.PlaylistLimit > 0 && n >= q.cfg.PlaylistLimit {
				q.log.WarnContext(ctx, "playlist truncated", slog.String("url", req.URL),
					slog.Int("entries", len(entries)), slog.Int("limit", q.cfg.PlaylistLimit))

				break
			}

			v, err := validate(SubmitRequest{URL: e.URL, Quality: req.Quality, Format: req.Format, Title: e.Title})
			if err != nil {
				q.log.DebugContext(ctx, "playlist entry skipped", slog.String("url", e.URL), slog.Any("error", err))

				continue
			}

			out = append(out, v)
			n++
		}

		if n == 0 {
			return nil, fmt.Errorf("%w: %s: %w", errs.ErrPlaylist, req.URL, errs.ErrNoURLs)
		}

		q.log.InfoContext(ctx, "playlist expanded", slog.String("url", req.URL), slog.Int("entries", n))
	}

	return out, nil
}

func (q *Queue) fetchPlaylist(ctx context.Context, url string) ([]entity.PlaylistEntry, error) {
	if q.cfg.MetadataTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, q.cfg.MetadataTimeout)
		defer cancel()
	}

	return q.lists.FetchPlaylist(ctx, url)
}

// admitAll runs admission for already validated requests in one actor turn.
func (q *Queue) admitAll(ctx context.Context, valid []SubmitRequest) ([]Admission, error) {
	out := make([]Admission, 0, len(valid))

	err := q.do(ctx, func(st *state) {
		var tasks []metadata.Task

		for _, req := range valid {
			adm := q.admit(st, req)
			if adm.Item != nil && adm.Item.MetadataLoading {
				tasks = append(tasks, metadata.Task{ID: adm.Item.ID, URL: adm.Item.URL, Quality: adm.Item.RequestedQuality})
			}

			out = append(out, adm)
		}

		q.fetchMetadata(tasks)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// SubmitText extracts every URL from free text and admits the valid ones.
func (q *Queue) SubmitText(ctx context.Context, text, token, format string) ([]Admission, error) {
	found, _ := Extract(text)

	reqs := make([]SubmitRequest, 0, len(found))

	for _, e := range found {
		if e.Valid {
			reqs = append(reqs, SubmitRequest{URL: e.URL, Quality: token, Format: format, Title: e.Title})
		}
	}

	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: %w", errs.ErrValidation, errs.ErrNoURLs)
	}

	return q.SubmitBatch(ctx, reqs)
}

// Extract lists the URLs found in text with duplicates removed. The second
// value is the number of duplicates dropped.
func Extract(text string) ([]entity.ExtractedURL, int) {
	found, dups := urls.Extract(text)

	out := make([]entity.ExtractedURL, 0, len(found))
	for _, e := range found {
		out = append(out, entity.ExtractedURL{
			URL:        e.URL,
			Platform:   e.Platform,
			IsPlaylist: e.IsPlaylist,
			Valid:      e.Valid,
			Title:      e.Title,
		})
	}

	return out, dups
}

// ExtractURLs is Extract plus the entry count of every valid playlist. A
// playlist that cannot be listed keeps a zero count.
func (q *Queue) ExtractURLs(ctx context.Context, text string) ([]entity.ExtractedURL, int) {
	found, dups := Extract(text)
	if q.lists == nil {
		return found, dups
	}

	for i := range found {
		if !found[i].IsPlaylist || !found[i].Valid {
			continue
		}

		entries, err := q.fetchPlaylist(ctx, found[i].URL)
		if err != nil {
			q.log.DebugContext(ctx, "playlist count", slog.String("url", found[i].URL), slog.Any("error", err))

			continue
		}

		found[i].PlaylistCount = len(entries)
	}

	return found, dups
}

func validate(req SubmitRequest) (SubmitRequest, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return req, fmt.Errorf("%w: %w: empty", errs.ErrValidation, errs.ErrInvalidURL)
	}

	fixed := urls.FixURL(raw)
	if !urls.IsURLValid(fixed) {
		return req, fmt.Errorf("%w: %w: %q", errs.ErrValidation, errs.ErrInvalidURL, raw)
	}

	req.URL = urls.Canonical(fixed)
	req.Quality = strings.TrimSpace(req.Quality)
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	req.Title = strings.TrimSpace(req.Title)

	return req, nil
}

// admit classifies req against the live queue and applies the policy. It runs
// on the actor and never blocks: an ask policy parks the candidate on the
// prompt queue and returns OutcomePending.
func (q *Queue) admit(st *state, req SubmitRequest) Admission {
	if req.Quality == "" {
		req.Quality = st.settings.DefaultQuality
	}

	v := q.resolver.Check(st.ctx, duplicate.Candidate{URL: req.URL, Title: req.Title, Quality: req.Quality},
		st.snapshot(), st.settings.OutputDir, st.settings)

	decision, action := duplicate.Decide(v, st.settings)

	var adm Admission

	switch decision {
	case duplicate.DecisionDrop:
		adm = Admission{Outcome: OutcomeSkipped, URL: req.URL, Kind: v.Kind, ExistingRef: v.ExistingRef}
	case duplicate.DecisionAsk:
		adm = q.ask(st, candidate{req: req, verdict: v})
	default:
		adm = q.create(st, candidate{req: req, verdict: v}, action)
	}

	if v.IsDuplicate && st.settings.ShowDuplicateWarnings {
		adm.Warning = warning(v)
	}

	q.metrics.RecordAdmission(string(adm.Outcome))
	q.log.InfoContext(st.ctx, "submission handled", slog.Any("admission", adm), slog.Any("verdict", v))

	return adm
}

func warning(v duplicate.Verdict) string {
	switch {
	case v.Kind == entity.DuplicateKindURL:
		return "url already in queue as " + v.ExistingRef
	case v.SettingsMatch:
		return "file already exists: " + v.ExistingRef
	default:
		return "a file with different settings exists: " + v.ExistingRef
	}
}

// create builds the item, stores it and starts it when AutoStart is on.
func (q *Queue) create(st *state, c candidate, action entity.DuplicateAction) Admission {
	s := st.settings
	now := q.now()

	it := &entity.DownloadItem{
		ID:               gen.ID(),
		Seq:              st.nextSeq(),
		URL:              c.req.URL,
		Platform:         urls.Detect(c.req.URL),
		Title:            c.req.Title,
		Status:           entity.StatusQueued,
		RequestedQuality: quality.Normalize(c.req.Quality),
		Format:           c.req.Format,
		KeepOriginal:     s.KeepOriginal,
		OutputDir:        s.OutputDir,
		MetadataLoading:  true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if it.Format == "" {
		it.Format = s.DefaultFormat
	}

	if s.EffectiveAutoConvert() {
		it.AutoConvert = true
		it.ConvertFormat = s.ConvertFormat
	}

	if c.verdict.IsDuplicate {
		it.IsDuplicate = true
		it.DuplicateKind = c.verdict.Kind
	}

	if action != entity.DuplicateActionAllow {
		it.DuplicateAction = action
	}

	if action == entity.DuplicateActionRename {
		it.OutputName = duplicate.NextFreeName(q.files, s.OutputDir, fsname.Sanitize(it.Title),
			quality.Suffix(it.RequestedQuality))
	}

	st.items[it.ID] = it
	q.metrics.RecordTransition("", string(it.Status))
	q.persist(st, it)

	if s.AutoStart {
		q.start(st, it)
	}

	out := *it

	return Admission{
		Outcome:     OutcomeAdmitted,
		URL:         it.URL,
		Item:        &out,
		Kind:        c.verdict.Kind,
		ExistingRef: c.verdict.ExistingRef,
	}
}

// ask parks c on the prompt queue. A goroutine waits for the answer and
// admits or drops the candidate through the actor.
func (q *Queue) ask(st *state, c candidate) Admission {
	id, reply := q.prompts.Ask(duplicate.Prompt{
		URL:         c.req.URL,
		Title:       c.req.Title,
		Kind:        c.verdict.Kind,
		ExistingRef: c.verdict.ExistingRef,
	})

	result := make(chan Admission, 1)

	q.answersMu.Lock()
	q.answers[id] = result
	q.answersMu.Unlock()

	q.metrics.SetPromptsPending(q.prompts.Pending())

	q.bg.Go(func() {
		defer func() {
			q.answersMu.Lock()
			delete(q.answers, id)
			q.answersMu.Unlock()
		}()

		action, ok := duplicate.Await(q.bgCtx, reply)
		if !ok {
			return
		}

		var adm Admission

		err := q.do(q.bgCtx, func(st *state) {
			adm = q.resolve(st, c, action)
		})
		if err != nil {
			return
		}

		result <- adm
	})

	return Admission{
		Outcome:     OutcomePending,
		URL:         c.req.URL,
		PromptID:    id,
		Kind:        c.verdict.Kind,
		ExistingRef: c.verdict.ExistingRef,
	}
}

// resolve applies a prompt answer on the actor.
func (q *Queue) resolve(st *state, c candidate, action entity.DuplicateAction) Admission {
	q.metrics.SetPromptsPending(q.prompts.Pending())

	var adm Admission

	if action == entity.DuplicateActionSkip {
		adm = Admission{Outcome: OutcomeDuplicate, URL: c.req.URL, Kind: c.verdict.Kind, ExistingRef: c.verdict.ExistingRef}
	} else {
		adm = q.create(st, c, action)
		if adm.Item.MetadataLoading {
			q.fetchMetadata([]metadata.Task{{ID: adm.Item.ID, URL: adm.Item.URL, Quality: adm.Item.RequestedQuality}})
		}
	}

	q.metrics.RecordAdmission(string(adm.Outcome))
	q.log.InfoContext(st.ctx, "prompt answered", slog.String("action", string(action)), slog.Any("admission", adm))

	return adm
}

// Decide answers the outstanding prompt and waits until the answer is applied.
func (q *Queue) Decide(ctx context.Context, promptID string, action entity.DuplicateAction) (Admission, error) {
	q.answersMu.Lock()
	result, ok := q.answers[promptID]
	q.answersMu.Unlock()

	if !ok {
		return Admission{}, fmt.Errorf("decide %s: %w", promptID, errs.ErrPromptNotFound)
	}

	if err := q.prompts.Answer(promptID, action); err != nil {
		return Admission{}, err
	}

	select {
	case adm := <-result:
		return adm, nil
	case <-q.done:
		return Admission{}, errs.ErrServiceClosed
	case <-ctx.Done():
		return Admission{}, ctx.Err()
	}
}

// fetchMetadata runs one scheduler batch in the background. Results are
// applied through the actor.
func (q *Queue) fetchMetadata(tasks []metadata.Task) {
	if len(tasks) == 0 {
		return
	}

	q.bg.Go(func() {
		q.meta.Run(q.bgCtx, tasks, func(res metadata.Result) {
			_ = q.do(q.bgCtx, func(st *state) {
				q.applyMetadata(st, res)
			})
		})
	})
}

func (q *Queue) applyMetadata(st *state, res metadata.Result) {
	it, ok := st.items[res.ID]
	if !ok {
		q.log.DebugContext(st.ctx, "metadata for unknown item", slog.String("id", res.ID))

		return
	}

	md := res.Metadata

	if it.Title == "" {
		it.Title = md.Title
	}

	if md.Duration > 0 {
		it.Duration = md.Duration
		it.DurationLabel = calc.FormatDuration(md.Duration)
	}

	if md.Thumbnail != "" {
		it.Thumbnail = md.Thumbnail
	}

	if res.ResolvedQuality != "" {
		it.ResolvedQuality = res.ResolvedQuality
	}

	it.MetadataLoading = false
	it.UpdatedAt = q.now()

	q.log.DebugContext(st.ctx, "metadata applied", slog.Any("result", res))
	q.persist(st, it)
}
