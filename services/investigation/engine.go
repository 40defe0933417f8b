// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package investigation implements the per-conversation state machine that
// narrows the applicable articles of a law and then tracks a factual
// checklist for every detected issue.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/observability"
	"github.com/AleutianAI/AleutianLex/services/retrieval"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
)

var tracer = otel.Tracer("aleutian.investigation")

const (
	// FallbackIssueKey is used when no category matches the consultation.
	FallbackIssueKey  = "others"
	FallbackIssueName = "기타 법률 상담"

	// DefaultLaw is selected when the index offers nothing better.
	DefaultLaw = "근로기준법"

	retryMessage       = "요청을 처리하는 중 문제가 발생했습니다. 같은 내용을 다시 보내 주세요."
	repromptMessage    = "답변을 선택지와 연결하지 못했습니다. 번호나 항목 이름으로 다시 답해 주세요."
	defaultNarrowingQ  = "현재 상황에서 가장 확인이 필요한 부분은 무엇인가요?"
	openQuestion       = "상황을 조금 더 자세히 말씀해 주세요."
	heuristicYesReason = "사용자 직접 긍정"
	heuristicNoReason  = "사용자 직접 부정"
	contextExcerpt     = 250
)

var (
	positives = []string{"네", "예", "맞아요", "그렇습니다", "맞음", "응", "어"}
	negatives = []string{"아니오", "아뇨", "틀려요", "아닙니다", "아님", "아니"}
)

var (
	// ErrEmptyInput is returned for a blank user message.
	ErrEmptyInput = errors.New("empty input")

	// ErrIndexUnavailable is returned when the engine has no law index.
	ErrIndexUnavailable = errors.New("law index unavailable")
)

// IndexSource provides read access to the law index.
type IndexSource interface {
	Laws() ([]string, error)
	Law(name string) (*category.LawIndex, error)
}

// Config holds the tunable thresholds of the state machine.
type Config struct {
	DefaultLaw        string
	MergeThreshold    float64
	FactThreshold     float64
	NarrowingMinSet   int
	NarrowingMaxDepth int
	CandidateK        int
	ContextK          int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		DefaultLaw:        DefaultLaw,
		MergeThreshold:    0.65,
		FactThreshold:     0.8,
		NarrowingMinSet:   5,
		NarrowingMaxDepth: 3,
		CandidateK:        15,
		ContextK:          10,
	}
}

// Reply is what a turn shows the user.
type Reply struct {
	Message  string         `json:"message"`
	Phase    Phase          `json:"phase"`
	Issue    string         `json:"issue,omitempty"`
	Options  []string       `json:"options,omitempty"`
	Progress map[string]int `json:"progress,omitempty"`
	Report   string         `json:"report,omitempty"`

	// Reprompt is set when a narrowing answer could not be resolved.
	Reprompt bool `json:"reprompt,omitempty"`

	// Retry is set when the turn was rolled back after a service failure.
	Retry bool `json:"retry,omitempty"`
}

// Engine runs consultation turns.
//
// # Description
//
// A conversation starts in START, where the law and the issues are chosen
// and a candidate article set is seeded. Each issue then passes through
// NARROWING, where clarifying questions shrink the candidate set, and
// INVESTIGATION, where a factual checklist is extracted, merged and asked
// about until every item is resolved. After the last issue the conversation
// is COMPLETE and carries a final report.
//
// # Thread Safety
//
// An Engine is safe for concurrent use by different conversations. Turns of
// one conversation must be serialized by the caller.
type Engine struct {
	client    llm.LLMClient
	retriever retrieval.Retriever
	index     IndexSource
	cfg       Config
	merger    Merger
	resolver  Resolver
	sim       Similarity
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSimilarity replaces the requirement similarity function.
func WithSimilarity(sim Similarity) EngineOption {
	return func(e *Engine) {
		if sim != nil {
			e.sim = sim
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source used for state timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. retriever and index may be nil; the engine
// then works from whatever the other collaborator provides.
func NewEngine(client llm.LLMClient, retriever retrieval.Retriever, index IndexSource, cfg Config, opts ...EngineOption) *Engine {
	if cfg.DefaultLaw == "" {
		cfg.DefaultLaw = DefaultLaw
	}
	e := &Engine{
		client:    client,
		retriever: retriever,
		index:     index,
		cfg:       cfg,
		sim:       RatcliffObershelp,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.merger = Merger{Similarity: e.sim, Threshold: cfg.MergeThreshold}
	e.resolver = Resolver{client: client}
	return e
}

// NewSession returns a fresh conversation state.
func (e *Engine) NewSession(id string) *State {
	return NewState(id, e.now())
}

// =============================================================================
// Turn
// =============================================================================

// Turn runs one user message against st.
//
// # Description
//
// The turn runs on a clone of st. On success the clone is returned. When a
// collaborator fails, or the model output cannot be used, st itself is
// returned unchanged together with a retry reply and a nil error, so the
// user can resubmit the same message. Other errors are returned as is.
//
// # Inputs
//
//   - ctx: Carries the caller's deadline for all external calls.
//   - st: The conversation state. Never modified.
//   - input: The user message.
//
// # Outputs
//
//   - *State: The state to persist.
//   - Reply: What to show the user.
//   - error: Non-nil only for failures a retry cannot fix.
func (e *Engine) Turn(ctx context.Context, st *State, input string) (*State, Reply, error) {
	ctx, span := tracer.Start(ctx, "Engine.Turn")
	defer span.End()
	phase := st.Phase
	span.SetAttributes(attribute.String("session", st.ID), attribute.String("phase", string(phase)))

	input = strings.TrimSpace(input)
	if input == "" && phase != PhaseComplete {
		return st, Reply{}, ErrEmptyInput
	}

	s := st.Clone()
	s.ensureMaps()
	s.History = append(s.History, Message{Role: "user", Content: input})

	reply, err := e.step(ctx, s, input)
	if err != nil {
		telemetry.RecordError(span, err)
		var ext *llm.ExternalServiceError
		if errors.As(err, &ext) {
			e.logger.Warn("Turn rolled back", "session", st.ID, "phase", phase, "service", ext.Service, "op", ext.Op, "error", err)
			e.metrics.RecordTurn(string(phase), "retry")
			return st, Reply{Message: retryMessage, Phase: st.Phase, Progress: progress(st), Retry: true}, nil
		}
		e.metrics.RecordTurn(string(phase), "error")
		return st, Reply{}, err
	}

	s.History = append(s.History, Message{Role: "assistant", Content: reply.Message})
	s.UpdatedAt = e.now()
	reply.Phase = s.Phase
	reply.Progress = progress(s)

	outcome := "ok"
	if reply.Reprompt {
		outcome = "reprompt"
	}
	e.metrics.RecordTurn(string(phase), outcome)
	e.logger.Debug("Turn completed", "session", s.ID, "from", phase, "to", s.Phase, "issue", s.IssueType)
	return s, reply, nil
}

func (e *Engine) step(ctx context.Context, s *State, input string) (Reply, error) {
	switch s.Phase {
	case PhaseStart:
		if err := e.start(ctx, s, input); err != nil {
			return Reply{}, err
		}
		return e.advance(ctx, s, "")
	case PhaseNarrowing:
		return e.advance(ctx, s, input)
	case PhaseInvestigation:
		return e.investigate(ctx, s, input)
	case PhaseComplete:
		return Reply{Message: s.Report, Report: s.Report}, nil
	default:
		return Reply{}, fmt.Errorf("unknown phase %q", s.Phase)
	}
}

// advance runs narrowing and, once the scope is frozen, investigation.
func (e *Engine) advance(ctx context.Context, s *State, answer string) (Reply, error) {
	reply, done, err := e.narrow(ctx, s, answer)
	if err != nil || !done {
		return reply, err
	}
	s.Phase = PhaseInvestigation
	return e.investigate(ctx, s, "")
}

// =============================================================================
// START
// =============================================================================

func (e *Engine) start(ctx context.Context, s *State, input string) error {
	ctx, span := tracer.Start(ctx, "Engine.start")
	defer span.End()

	law, err := e.selectLaw(ctx, input)
	if err != nil {
		return err
	}
	s.SelectedLaw = law

	issues, err := e.classifyIssues(ctx, law, input)
	if err != nil {
		return err
	}
	s.DetectedIssues = issues
	s.IssueType = issues[0].Key
	for _, is := range issues {
		if _, ok := s.Checklists[is.Key]; !ok {
			s.Checklists[is.Key] = []ChecklistItem{}
		}
	}

	s.Narrowing = Narrowing{CurrentArticles: e.seed(ctx, s, input)}
	s.Phase = PhaseNarrowing
	span.SetAttributes(
		attribute.String("law", law),
		attribute.String("issue", s.IssueType),
		attribute.Int("candidates", len(s.Narrowing.CurrentArticles)))
	e.logger.Info("Consultation started", "session", s.ID, "law", law, "issues", len(issues), "candidates", len(s.Narrowing.CurrentArticles))
	return nil
}

// selectLaw picks the law of the consultation. Only a failed call is an
// error; unusable output falls back to the default law.
func (e *Engine) selectLaw(ctx context.Context, input string) (string, error) {
	if e.index == nil {
		return e.cfg.DefaultLaw, nil
	}
	laws, err := e.index.Laws()
	if err != nil || len(laws) == 0 {
		e.logger.Warn("No indexed laws, using default", "law", e.cfg.DefaultLaw, "error", err)
		return e.cfg.DefaultLaw, nil
	}
	if len(laws) == 1 {
		return laws[0], nil
	}

	prompt, err := llm.Render(lawSelectPrompt, map[string]any{"Input": input, "Laws": laws})
	if err != nil {
		return "", err
	}
	res := llm.Call[lawSelectReply](ctx, e.client, prompt, llm.GenerationParams{JSONMode: true})
	if !res.OK() {
		if transient(res.Err) {
			return "", res.Err
		}
		e.logger.Warn("Law selection unparsable, using default", "error", res.Err)
		return e.cfg.DefaultLaw, nil
	}
	name := strings.TrimSpace(res.Value.SelectedLaw)
	if !slices.Contains(laws, name) {
		e.logger.Warn("Law selection not in index, using default", "selected", name)
		return e.cfg.DefaultLaw, nil
	}
	return name, nil
}

// classifyIssues maps the consultation onto categories of law. Keys the
// index does not know are dropped; with nothing left the fallback issue is
// used.
func (e *Engine) classifyIssues(ctx context.Context, law, input string) ([]Issue, error) {
	fallback := []Issue{{Key: FallbackIssueKey, Name: FallbackIssueName}}
	idx, err := e.lawIndex(law)
	if err != nil || len(idx.Categories) == 0 {
		return fallback, nil
	}

	prompt, err := llm.Render(issuePrompt, map[string]any{"Input": input, "Categories": idx.Categories})
	if err != nil {
		return nil, err
	}
	res := llm.Call[issueReply](ctx, e.client, prompt, llm.GenerationParams{JSONMode: true})
	if !res.OK() {
		if transient(res.Err) {
			return nil, res.Err
		}
		e.logger.Warn("Issue classification unparsable, using fallback issue", "error", res.Err)
		return fallback, nil
	}

	var issues []Issue
	seen := make(map[string]bool)
	for _, it := range res.Value.Issues {
		key := strings.TrimSpace(it.Key)
		c, ok := idx.Category(key)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		issues = append(issues, Issue{Key: key, Name: c.Name})
	}
	if len(issues) == 0 {
		return fallback, nil
	}
	return issues, nil
}

// seed returns the initial candidate Act articles: retrieval on the user
// input, else the core articles of the current issue.
func (e *Engine) seed(ctx context.Context, s *State, input string) []string {
	if e.retriever != nil {
		docs, err := e.retriever.Retrieve(ctx, retrieval.Query{
			Text: input,
			K:    e.cfg.CandidateK,
			Tier: article.Act,
			Law:  s.SelectedLaw,
		})
		if err != nil {
			e.logger.Warn("Candidate retrieval failed, using category articles", "error", err)
		} else if nums := retrieval.Numbers(docs); len(nums) > 0 {
			return nums
		}
	}
	return e.issueArticles(s.SelectedLaw, s.IssueType)
}

// issueArticles returns the core article numbers of an issue's category.
func (e *Engine) issueArticles(law, key string) []string {
	idx, err := e.lawIndex(law)
	if err != nil {
		return nil
	}
	c, ok := idx.Category(key)
	if !ok {
		return nil
	}
	return c.CoreNumbers()
}

// =============================================================================
// NARROWING
// =============================================================================

// narrow runs the narrowing loop. It reports done when the scope is frozen.
func (e *Engine) narrow(ctx context.Context, s *State, answer string) (Reply, bool, error) {
	ctx, span := tracer.Start(ctx, "Engine.narrow")
	defer span.End()

	n := &s.Narrowing
	freeze := func() {
		n.Pending = false
		n.Options = nil
		n.Question = ""
	}

	if _, err := e.lawIndex(s.SelectedLaw); err != nil {
		e.logger.Warn("Law index unavailable, skipping narrowing", "law", s.SelectedLaw, "error", err)
		e.metrics.RecordNarrowing(NarrowingSkipped)
		freeze()
		return Reply{}, true, nil
	}

	for {
		if len(n.CurrentArticles) < e.cfg.NarrowingMinSet || n.Depth >= e.cfg.NarrowingMaxDepth {
			span.SetAttributes(attribute.Int("depth", n.Depth), attribute.Int("scope", len(n.CurrentArticles)))
			freeze()
			return Reply{}, true, nil
		}

		if n.Pending {
			if answer == "" {
				return e.narrowingReply(s), false, nil
			}
			i, method, err := e.resolver.Resolve(ctx, answer, n.Options)
			e.metrics.RecordNarrowing(method)
			if errors.Is(err, ErrAmbiguousAnswer) {
				e.logger.Info("Narrowing answer unresolved, asking again", "session", s.ID, "error", err)
				reply := e.narrowingReply(s)
				reply.Message = repromptMessage + "\n\n" + reply.Message
				reply.Reprompt = true
				return reply, false, nil
			}
			if err != nil {
				return Reply{}, false, err
			}
			e.logger.Info("Narrowed candidate articles",
				"session", s.ID,
				"method", method,
				"option", n.Options[i].Label,
				"from", len(n.CurrentArticles),
				"to", len(n.Options[i].ArticleNumbers))
			n.CurrentArticles = append([]string(nil), n.Options[i].ArticleNumbers...)
			n.Depth++
			freeze()
			answer = ""
			continue
		}

		options, question, err := e.generateOptions(ctx, s)
		if err != nil {
			if transient(err) {
				return Reply{}, false, err
			}
			e.logger.Warn("Narrowing options unusable, freezing scope", "error", err)
			e.metrics.RecordNarrowing(NarrowingSkipped)
			freeze()
			return Reply{}, true, nil
		}
		if len(options) < 2 {
			e.metrics.RecordNarrowing(NarrowingSkipped)
			freeze()
			return Reply{}, true, nil
		}
		n.Options = options
		n.Question = question
		n.Pending = true
		return e.narrowingReply(s), false, nil
	}
}

func (e *Engine) narrowingReply(s *State) Reply {
	labels := make([]string, len(s.Narrowing.Options))
	for i, o := range s.Narrowing.Options {
		labels[i] = o.Label
	}
	issue, _ := s.CurrentIssue()
	return Reply{
		Message: s.Narrowing.Question + "\n\n" + strings.Join(optionLabels(s.Narrowing.Options), "\n"),
		Issue:   issue.Name,
		Options: labels,
	}
}

func (e *Engine) generateOptions(ctx context.Context, s *State) ([]Option, string, error) {
	issue, _ := s.CurrentIssue()
	prompt, err := llm.Render(narrowingPrompt, map[string]any{
		"Issue":    issue.Name,
		"History":  s.recentHistory(2),
		"Articles": e.articleContext(ctx, s),
	})
	if err != nil {
		return nil, "", err
	}
	res := llm.Call[narrowingReply](ctx, e.client, prompt, llm.GenerationParams{JSONMode: true})
	if !res.OK() {
		return nil, "", res.Err
	}

	proposed := make([]Option, 0, len(res.Value.Options))
	for _, o := range res.Value.Options {
		nums := make([]string, len(o.ArticleNumbers))
		for i, n := range o.ArticleNumbers {
			nums[i] = string(n)
		}
		proposed = append(proposed, Option{Label: o.Label, Keywords: o.Keywords, ArticleNumbers: nums})
	}
	question := strings.TrimSpace(res.Value.Question)
	if question == "" {
		question = defaultNarrowingQ
	}
	return SanitizeOptions(proposed, s.Narrowing.CurrentArticles), question, nil
}

// articleContext renders the candidate articles for the narrowing prompt.
// Without retrieval only the article labels are listed.
func (e *Engine) articleContext(ctx context.Context, s *State) string {
	current := s.Narrowing.CurrentArticles
	byNum := make(map[string]retrieval.Document)
	if e.retriever != nil {
		issue, _ := s.CurrentIssue()
		docs, err := e.retriever.Retrieve(ctx, retrieval.Query{
			Text:           issue.Name,
			K:              len(current),
			ArticleNumbers: current,
			Tier:           article.Act,
			Law:            s.SelectedLaw,
		})
		if err != nil {
			e.logger.Warn("Article retrieval for narrowing failed", "error", err)
		}
		for _, d := range docs {
			if _, ok := byNum[d.Metadata.ArticleNumber]; !ok {
				byNum[d.Metadata.ArticleNumber] = d
			}
		}
	}

	var b strings.Builder
	for _, num := range current {
		d, ok := byNum[num]
		if !ok {
			fmt.Fprintf(&b, "[%s]\n", article.Label(num))
			continue
		}
		label := d.Metadata.Article
		if label == "" {
			label = article.Label(num)
		}
		fmt.Fprintf(&b, "[%s - %s] %s\n", label, d.Metadata.Title, excerpt(d.Text, contextExcerpt))
	}
	return strings.TrimSpace(b.String())
}

// =============================================================================
// INVESTIGATION
// =============================================================================

// investigate runs one investigation turn. answer is empty when the turn
// carries no new user answer for this issue.
func (e *Engine) investigate(ctx context.Context, s *State, answer string) (Reply, error) {
	ctx, span := tracer.Start(ctx, "Engine.investigate")
	defer span.End()

	issue, ok := s.CurrentIssue()
	if !ok {
		return Reply{}, errors.New("investigation without a detected issue")
	}
	span.SetAttributes(attribute.String("issue", issue.Key))

	conclusion := ""
	if answer == "" || !e.applyHeuristic(s, answer) {
		if answer != "" {
			if err := e.extractFacts(ctx, s, answer); err != nil {
				return Reply{}, err
			}
		}
		lawContext, err := e.lawContext(ctx, s, issue)
		if err != nil {
			return Reply{}, err
		}
		conclusion, err = e.syncChecklist(ctx, s, issue, lawContext)
		if err != nil {
			return Reply{}, err
		}
	}

	if Complete(s.Checklists[issue.Key]) {
		return e.completeIssue(ctx, s, issue, conclusion)
	}
	return e.nextQuestion(ctx, s, issue), nil
}

// applyHeuristic answers the last asked item from a bare yes or no.
func (e *Engine) applyHeuristic(s *State, answer string) bool {
	if s.LastAskedItem == "" {
		return false
	}
	clean := strings.ReplaceAll(strings.TrimSpace(answer), " ", "")
	var (
		status Status
		reason string
	)
	switch {
	case slices.Contains(positives, clean):
		status, reason = StatusYes, heuristicYesReason
	case slices.Contains(negatives, clean):
		status, reason = StatusNo, heuristicNoReason
	default:
		return false
	}

	items := s.Checklists[s.IssueType]
	for i := range items {
		if items[i].Requirement == s.LastAskedItem {
			items[i].Status = status
			items[i].Reason = reason
			s.Facts[items[i].Requirement] = status
			e.logger.Debug("Answered last item directly", "session", s.ID, "item", s.LastAskedItem, "status", status)
			return true
		}
	}
	return false
}

// extractFacts records YES and NO facts stated in answer about unresolved
// items.
func (e *Engine) extractFacts(ctx context.Context, s *State, answer string) error {
	var open []ChecklistItem
	for _, it := range s.Checklists[s.IssueType] {
		if !it.Status.Resolved() {
			open = append(open, it)
		}
	}
	if len(open) == 0 {
		return nil
	}

	question := s.LastQuestion
	if question == "" {
		question = "없음"
	}
	prompt, err := llm.Render(factPrompt, map[string]any{"Question": question, "Input": answer, "Items": open})
	if err != nil {
		return err
	}
	res := llm.Call[map[string]llm.FlexString](ctx, e.client, prompt, llm.GenerationParams{JSONMode: true})
	if !res.OK() {
		return res.Err
	}
	for name, v := range res.Value {
		name = strings.TrimSpace(name)
		if st := ParseStatus(string(v)); name != "" && (st == StatusYes || st == StatusNo) {
			s.Facts[name] = st
		}
	}
	return nil
}

// lawContext builds the legal reference text of an issue, restricted to the
// frozen scope, and caches it in the state.
func (e *Engine) lawContext(ctx context.Context, s *State, issue Issue) (string, error) {
	if cached, ok := s.ContextCache[issue.Key]; ok && cached != "" {
		return cached, nil
	}
	if e.retriever == nil {
		return "", nil
	}

	query := issue.Name
	var refs []article.Ref
	if idx, err := e.lawIndex(s.SelectedLaw); err == nil {
		var keywords []string
		refs, keywords = ScopeRefs(idx, issue.Key, s.Narrowing.CurrentArticles)
		query = expandQuery(s.SelectedLaw, issue.Name, keywords, refs)
	}

	var docs []retrieval.Document
	if len(refs) > 0 {
		nums := make([]string, 0, len(refs))
		for _, r := range refs {
			if !slices.Contains(nums, r.Num) {
				nums = append(nums, r.Num)
			}
		}
		exact, err := e.retriever.Retrieve(ctx, retrieval.Query{
			Text:           query,
			K:              len(refs) * 2,
			ArticleNumbers: nums,
			Law:            s.SelectedLaw,
		})
		if err != nil {
			return "", err
		}
		for _, d := range exact {
			if slices.Contains(refs, article.Ref{Num: d.Metadata.ArticleNumber, Type: d.Metadata.Tier}) {
				docs = append(docs, d)
			}
		}
	}
	similar, err := e.retriever.Retrieve(ctx, retrieval.Query{Text: query, K: e.cfg.ContextK, Law: s.SelectedLaw})
	if err != nil {
		return "", err
	}
	docs = append(docs, similar...)

	var (
		b    strings.Builder
		seen = make(map[string]bool)
	)
	for _, d := range docs {
		if seen[d.Text] {
			continue
		}
		seen[d.Text] = true
		fmt.Fprintf(&b, "%s\n%s\n\n", d, d.Text)
	}
	out := strings.TrimSpace(b.String())
	s.ContextCache[issue.Key] = out
	return out, nil
}

// ScopeRefs returns the articles forming the legal context of an issue: the
// scoped Act articles, the subordinate articles nested under them in any
// category, and the issue category's penalty clauses when one of its core
// articles is in scope. An empty scope means the whole issue category. The
// issue category's search keywords are returned too.
func ScopeRefs(idx *category.LawIndex, issueKey string, scope []string) ([]article.Ref, []string) {
	issueCat, hasCat := idx.Category(issueKey)
	if len(scope) == 0 && hasCat {
		scope = issueCat.CoreNumbers()
	}

	var refs []article.Ref
	add := func(r article.Ref) {
		if !slices.Contains(refs, r) {
			refs = append(refs, r)
		}
	}
	for _, num := range scope {
		add(article.Ref{Num: num, Type: article.Act})
		for _, c := range idx.Categories {
			for _, node := range c.CoreArticles {
				if node.Num != num {
					continue
				}
				for _, sub := range node.SubArticles {
					add(sub)
				}
			}
		}
	}
	if !hasCat {
		return refs, nil
	}
	for _, num := range scope {
		if issueCat.HasCore(num) {
			for _, p := range issueCat.PenaltyArticles {
				add(p)
			}
			break
		}
	}
	return refs, issueCat.SearchKeywords
}

// expandQuery joins the issue name, its keywords and the full names of the
// scoped articles into one retrieval query.
func expandQuery(law, issue string, keywords []string, refs []article.Ref) string {
	parts := []string{issue}
	parts = append(parts, keywords...)
	for _, r := range refs {
		name := law + " " + article.Label(r.Num)
		if r.Type != article.Act {
			name = law + " " + r.Type.FileWord() + " " + article.Label(r.Num)
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, " ")
}

// syncChecklist asks for a proposed checklist and merges it into the current
// issue's list. It returns the model's conclusion.
func (e *Engine) syncChecklist(ctx context.Context, s *State, issue Issue, lawContext string) (string, error) {
	if lawContext == "" {
		lawContext = "관련 법령 없음"
	}
	prompt, err := llm.Render(checklistPrompt, map[string]any{
		"Issue":      issue.Name,
		"LawContext": lawContext,
		"History":    s.recentHistory(6),
		"Facts":      s.Facts,
		"Checklist":  s.Checklists[issue.Key],
	})
	if err != nil {
		return "", err
	}
	res := llm.Call[checklistReply](ctx, e.client, prompt, llm.GenerationParams{JSONMode: true})
	if !res.OK() {
		return "", res.Err
	}

	proposed := make([]ChecklistItem, 0, len(res.Value.Items))
	for _, it := range res.Value.Items {
		typ := TypeDetail
		if strings.EqualFold(strings.TrimSpace(it.Type), string(TypeExistence)) {
			typ = TypeExistence
		}
		status := it.Status
		if status == "" {
			status = StatusUnknown
		}
		proposed = append(proposed, ChecklistItem{
			Requirement: strings.TrimSpace(it.Requirement),
			Type:        typ,
			Status:      status,
			Reason:      it.Reason,
		})
	}
	forced := ForceFromFacts(proposed, s.Facts, e.sim, e.cfg.FactThreshold)

	merged, stats := e.merger.Merge(s.Checklists[issue.Key], proposed)
	s.Checklists[issue.Key] = merged
	e.recordMerge(stats)
	e.logger.Debug("Merged checklist",
		"session", s.ID,
		"issue", issue.Key,
		"proposed", len(proposed),
		"forced", forced,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"kept", stats.Kept)
	return strings.TrimSpace(res.Value.Conclusion), nil
}

func (e *Engine) recordMerge(stats MergeStats) {
	for range stats.Inserted {
		e.metrics.RecordMerge(MergeInserted)
	}
	for range stats.Updated {
		e.metrics.RecordMerge(MergeUpdated)
	}
	for range stats.Kept {
		e.metrics.RecordMerge(MergeKept)
	}
}

// nextQuestion asks about the first UNKNOWN item. A failed or unusable
// model call falls back to a fixed wording.
func (e *Engine) nextQuestion(ctx context.Context, s *State, issue Issue) Reply {
	var target *ChecklistItem
	items := s.Checklists[issue.Key]
	for i := range items {
		if items[i].Status == StatusUnknown {
			target = &items[i]
			break
		}
	}
	if target == nil {
		s.LastAskedItem, s.LastQuestion = "", ""
		return Reply{Message: openQuestion, Issue: issue.Name}
	}

	question := FallbackQuestion(target.Requirement)
	prompt, err := llm.Render(questionPrompt, map[string]any{"Target": target.Requirement, "Checklist": items})
	if err == nil {
		res := llm.Call[questionReply](ctx, e.client, prompt, llm.GenerationParams{JSONMode: true})
		if q := strings.TrimSpace(res.Value.Question); res.OK() && q != "" {
			question = q
		} else {
			e.logger.Warn("Question generation failed, using fixed wording", "error", res.Err)
		}
	}
	s.LastAskedItem = target.Requirement
	s.LastQuestion = question
	return Reply{Message: question, Issue: issue.Name}
}

// FallbackQuestion words a yes/no question about requirement.
func FallbackQuestion(requirement string) string {
	return fmt.Sprintf("다음 사항에 해당하는지 알려 주세요: %s (네/아니오)", requirement)
}

// completeIssue records the issue's conclusion and moves to the next issue,
// or finishes the consultation.
func (e *Engine) completeIssue(ctx context.Context, s *State, issue Issue, conclusion string) (Reply, error) {
	if conclusion == "" {
		conclusion = summarize(s.Checklists[issue.Key])
	}
	s.Conclusions[issue.Key] = conclusion
	s.LastAskedItem, s.LastQuestion = "", ""
	e.logger.Info("Issue resolved", "session", s.ID, "issue", issue.Key)

	next := -1
	for i, is := range s.DetectedIssues {
		if is.Key == issue.Key {
			next = i + 1
			break
		}
	}
	if next > 0 && next < len(s.DetectedIssues) {
		nextIssue := s.DetectedIssues[next]
		s.IssueType = nextIssue.Key
		s.Phase = PhaseNarrowing
		s.Narrowing = Narrowing{CurrentArticles: e.issueArticles(s.SelectedLaw, nextIssue.Key)}
		reply, err := e.advance(ctx, s, "")
		if err != nil {
			return Reply{}, err
		}
		reply.Message = fmt.Sprintf("'%s' 검토를 마쳤습니다. 이어서 '%s'에 대해 확인하겠습니다.\n\n%s",
			issue.Name, nextIssue.Name, reply.Message)
		return reply, nil
	}

	s.Phase = PhaseComplete
	s.Report = BuildReport(s)
	return Reply{Message: s.Report, Issue: issue.Name, Report: s.Report}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (e *Engine) lawIndex(law string) (*category.LawIndex, error) {
	if e.index == nil {
		return nil, ErrIndexUnavailable
	}
	return e.index.Law(law)
}

// transient reports whether err is a failed call rather than bad output.
func transient(err error) bool {
	var ext *llm.ExternalServiceError
	return errors.As(err, &ext) && !llm.IsParseError(err)
}

func progress(s *State) map[string]int {
	if len(s.DetectedIssues) == 0 {
		return nil
	}
	out := make(map[string]int, len(s.DetectedIssues))
	for _, is := range s.DetectedIssues {
		out[is.Key] = s.Progress(is.Key)
	}
	return out
}

func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
