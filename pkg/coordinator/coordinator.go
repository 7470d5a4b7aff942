package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airlock-ai/airlock/pkg/audit"
	"github.com/airlock-ai/airlock/pkg/lifecycle"
	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/models"
	"github.com/airlock-ai/airlock/pkg/policy"
	"github.com/airlock-ai/airlock/pkg/registry"
	"github.com/airlock-ai/airlock/pkg/routing"
)

// ErrNoAgents is returned when no agent can serve queries at all.
var ErrNoAgents = errors.New("no agents available")

// QueryInput is one user query.
type QueryInput struct {
	Query    string
	Language string
	Phase    string
	User     *models.UserContext
	Provider string
	TrID     string
}

// Result is the final outcome of a processed query.
type Result struct {
	Content         string
	Blocked         bool
	Declined        bool
	AgentUsed       string
	TranslatedQuery string
	Metadata        *Metadata
}

// queryState is the request-scoped pipeline state. Nothing here outlives the
// query; concurrent queries each get their own.
type queryState struct {
	query        string // current (translated, masked) query text
	history      []models.Turn
	user         *models.UserContext
	provider     string
	checkpointed bool
	scanCtx      policy.Context
	ledger       *tokenLedger
	checkpoints  *checkpointRunner
	strategy     *routing.Strategy
	emit         func(Event)
}

// Coordinator orchestrates queries across the registry, the session manager,
// the LLM adapter and the policy client. Safe for concurrent use.
type Coordinator struct {
	llm       *llm.Registry
	agents    *registry.Registry
	sessions  *mcp.Manager
	policy    *policy.Client
	router    *routing.Engine
	audit     audit.Sink
	estimator *llm.Estimator

	historyWindow    int
	translationModel string
	logger           *slog.Logger
}

// Options carries optional coordinator collaborators.
type Options struct {
	Audit         audit.Sink
	HistoryWindow int
	// TranslationModel overrides the provider's default model for the
	// translate steps (TRANSLATION_MODEL). Empty keeps the default.
	TranslationModel string
}

// New creates a coordinator. A nil options audit sink defaults to the no-op
// sink; HistoryWindow <= 0 defaults to 6 turns.
func New(llmReg *llm.Registry, agents *registry.Registry, sessions *mcp.Manager,
	policyClient *policy.Client, opts Options) *Coordinator {

	sink := opts.Audit
	if sink == nil {
		sink = audit.NopSink{}
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = 6
	}
	return &Coordinator{
		llm:              llmReg,
		agents:           agents,
		sessions:         sessions,
		policy:           policyClient,
		router:           routing.NewEngine(llmReg, agents),
		audit:            sink,
		estimator:        llm.NewEstimator(),
		historyWindow:    window,
		translationModel: opts.TranslationModel,
		logger:           slog.Default(),
	}
}

// personalPronouns matches first-person references that make a query
// unanswerable without a user identity.
var personalPronouns = regexp.MustCompile(`(?i)\b(i|me|my|mine|myself|i'm|i've|i'll)\b`)

// Process runs the full pipeline for one query, emitting progress events
// through emit (may be nil). The returned Result mirrors the final response
// event. Errors are user-visible failures; emit has already received an
// error event for them.
func (c *Coordinator) Process(ctx context.Context, in QueryInput, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	// Parallel dispatch emits from several goroutines; serialize here so
	// consumers (the streaming response writer included) see whole events in
	// a stable order.
	var emitMu sync.Mutex
	forward := emit
	emit = func(e Event) {
		emitMu.Lock()
		defer emitMu.Unlock()
		forward(e)
	}
	if in.TrID == "" {
		in.TrID = uuid.NewString()
	}
	start := time.Now()

	st := &queryState{
		query:        in.Query,
		user:         in.User,
		provider:     in.Provider,
		checkpointed: in.Phase == models.Phase3,
		scanCtx:      scanContextFor(&in, c.llm.Default()),
		ledger:       newTokenLedger(),
		emit:         emit,
	}
	st.history = in.User.RecentHistory(c.historyWindow)
	st.checkpoints = newCheckpointRunner(c.policy, emit)

	result, err := c.process(ctx, &in, st)
	if err != nil {
		emit(ErrorEvent(err.Error()))
		return nil, err
	}

	emit(responseEvent(result.Content, result.Blocked, result.Declined, result.Metadata))
	c.recordAudit(&in, st, result, time.Since(start))
	return result, nil
}

func (c *Coordinator) process(ctx context.Context, in *QueryInput, st *queryState) (*Result, error) {
	// Personal-query guard: no identity means no personal answer, and no
	// LLM spend finding that out.
	if personalPronouns.MatchString(st.query) && !in.User.HasIdentity() {
		st.emit(thinkingEvent("This looks like a personal question, but no user identity was provided."))
		return &Result{
			Content: "I can't answer personal questions without knowing who you are. " +
				"Please sign in so I can look up your information.",
			Metadata: newMetadata(st.ledger, st.checkpoints.records()),
		}, nil
	}

	// Checkpoint 1: the raw user text. The original is never forwarded once
	// masking rewrites it.
	if st.checkpointed {
		verdict, err := st.checkpoints.run(ctx, checkpointInput, st.query, "", st.scanCtx)
		if err != nil {
			return nil, fmt.Errorf("input policy check: %w", err)
		}
		if !verdict.Approved {
			return &Result{
				Content:  verdict.Message,
				Blocked:  true,
				Metadata: newMetadata(st.ledger, st.checkpoints.records()),
			}, nil
		}
		st.query = verdict.MaskedPrompt
	}

	// With nobody to dispatch to, fail before spending LLM tokens on
	// translation or routing.
	candidates := healthyOnly(c.agents.FindCandidates())
	if len(candidates) == 0 {
		return nil, ErrNoAgents
	}

	// Translate to English for routing and dispatch.
	if !isEnglish(in.Language) {
		st.emit(thinkingEvent("Translating the query to English."))
		st.query = c.translateToEnglish(ctx, st.query, in.Language, in.Provider, st.ledger)
	}
	translatedQuery := st.query

	st.emit(thinkingEvent("Deciding which specialist can answer this."))
	strategy, routeResp, err := c.router.Route(ctx, st.query, candidates, st.history, st.provider)
	st.ledger.addCoordinator(routeResp, c.estimator, st.query)
	if err != nil {
		return nil, err
	}
	st.strategy = strategy

	if strategy.Kind == routing.StrategyDeclined {
		return &Result{
			Content:         strategy.Reasoning,
			Declined:        true,
			TranslatedQuery: translatedQuery,
			Metadata:        newMetadata(st.ledger, st.checkpoints.records()),
		}, nil
	}

	st.emit(thinkingEvent(routingNote(strategy)))
	subs := c.dispatchAll(ctx, strategy, st)
	c.reportFailedBranches(subs)

	usable := usableResponses(subs)
	if len(usable) == 0 {
		if blocked := firstBlocked(subs); blocked != nil {
			return &Result{
				Content:         "The response was withheld by the security policy.",
				Blocked:         true,
				AgentUsed:       blocked.Assignment.AgentName,
				TranslatedQuery: translatedQuery,
				Metadata:        newMetadata(st.ledger, st.checkpoints.records()),
			}, nil
		}
		return nil, fmt.Errorf("all agents failed to answer")
	}

	answer := usable[0].Text
	if len(strategy.Agents) > 1 {
		st.emit(thinkingEvent("Combining the specialists' answers."))
		answer = c.synthesize(ctx, st.query, subs, in.Provider, st.ledger)
	}

	st.emit(thinkingEvent("Checking the answer is relevant and complete."))
	answer = c.validateResponse(ctx, st.query, answer, in.Provider, st.ledger)

	if !isEnglish(in.Language) {
		st.emit(thinkingEvent("Translating the answer back."))
		answer = c.translateBack(ctx, answer, in.Language, in.Provider, st.ledger)
	}

	blocked := false
	if st.checkpointed {
		verdict, err := st.checkpoints.run(ctx, checkpointFinal, in.Query, answer, st.scanCtx)
		if err != nil {
			return nil, fmt.Errorf("final policy check: %w", err)
		}
		if !verdict.Approved {
			answer = verdict.Message
			blocked = true
		} else {
			answer = verdict.MaskedResponse
		}
	}

	return &Result{
		Content:         answer,
		Blocked:         blocked,
		AgentUsed:       usedAgents(usable),
		TranslatedQuery: translatedQuery,
		Metadata:        newMetadata(st.ledger, st.checkpoints.records()),
	}, nil
}

// healthyOnly drops registry fallback entries whose health flag is false;
// an unhealthy agent is never a dispatch target.
func healthyOnly(candidates []registry.Agent) []registry.Agent {
	var out []registry.Agent
	for _, a := range candidates {
		if a.Healthy {
			out = append(out, a)
		}
	}
	return out
}

// reportFailedBranches logs transport failures; the session manager has
// already marked those agents unhealthy.
func (c *Coordinator) reportFailedBranches(subs []subResponse) {
	for _, sub := range subs {
		if sub.Err != nil {
			c.logger.Warn("Agent dispatch failed",
				"agent", sub.Assignment.AgentName, "error", sub.Err)
		}
	}
}

func (c *Coordinator) recordAudit(in *QueryInput, st *queryState, result *Result, latency time.Duration) {
	var email string
	if in.User != nil {
		email = in.User.Email
	}
	phase := in.Phase
	if phase == "" {
		phase = models.Phase1
	}

	entry := audit.Entry{
		TrID:      in.TrID,
		UserEmail: email,
		Phase:     phase,
		Query:     st.query,
		Strategy:  strategyName(st, result),
		Agents:    strings.Split(result.AgentUsed, ", "),
		Blocked:   result.Blocked,
		Latency:   latency,
		CreatedAt: time.Now(),
	}
	if result.AgentUsed == "" {
		entry.Agents = nil
	}
	if result.Metadata != nil {
		entry.CoordinatorTokens = result.Metadata.CoordinatorTokens
		entry.AgentTokens = result.Metadata.AgentTokens
		entry.TotalTokens = result.Metadata.TotalTokens
		for _, cp := range result.Metadata.SecurityCheckpoints {
			if cp.Status == "blocked" {
				entry.BlockCategory = cp.Category
				break
			}
		}
	}

	// Fire and forget with a short deadline: audit must never delay the
	// response path.
	lifecycle.Go("audit-record", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.audit.RecordQuery(ctx, entry); err != nil {
			c.logger.Warn("Audit record failed", "tr_id", entry.TrID, "error", err)
		}
	})
}

func strategyName(st *queryState, result *Result) string {
	if result.Declined {
		return string(routing.StrategyDeclined)
	}
	if st.strategy != nil {
		return string(st.strategy.Kind)
	}
	return string(routing.StrategySingle)
}

func routingNote(strategy *routing.Strategy) string {
	names := make([]string, len(strategy.Agents))
	for i, a := range strategy.Agents {
		names[i] = a.AgentName
	}
	switch strategy.Kind {
	case routing.StrategySingle:
		return "Routing to " + names[0] + "."
	case routing.StrategySequential:
		return "Consulting in order: " + strings.Join(names, ", ") + "."
	default:
		return "Consulting in parallel: " + strings.Join(names, ", ") + "."
	}
}

func firstBlocked(subs []subResponse) *subResponse {
	for i := range subs {
		if subs[i].Blocked {
			return &subs[i]
		}
	}
	return nil
}

func usedAgents(usable []subResponse) string {
	names := make([]string, len(usable))
	for i, sub := range usable {
		names[i] = sub.Assignment.AgentName
	}
	return strings.Join(names, ", ")
}
