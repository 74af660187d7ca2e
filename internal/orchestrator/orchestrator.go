// Package orchestrator drives one conversation turn: domain detection, tool
// selection, the iterative provider loop, streaming emission, citation
// enforcement, persistence, and usage finalization.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/revlane/assistant/internal/billing"
	"github.com/revlane/assistant/internal/breaker"
	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/llm"
	"github.com/revlane/assistant/internal/metrics"
	"github.com/revlane/assistant/internal/store"
	"github.com/revlane/assistant/internal/tools"
)

// Config holds the turn-level tunables.
type Config struct {
	MaxTokens          int
	ProviderTimeout    time.Duration
	TurnBudget         time.Duration
	SignupBalanceCents int64
}

// Orchestrator owns one upstream provider and the shared collaborators. Safe
// for concurrent turns on different conversations; concurrent turns on the
// same conversation must be serialized by the caller.
type Orchestrator struct {
	store    store.Store
	meter    *billing.Meter
	breaker  *breaker.Breaker
	provider llm.Provider
	filter   *tools.Filter
	executor *tools.Executor
	cfg      Config
	log      *slog.Logger
}

// New wires an orchestrator.
func New(st store.Store, meter *billing.Meter, brk *breaker.Breaker, provider llm.Provider,
	filter *tools.Filter, executor *tools.Executor, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:    st,
		meter:    meter,
		breaker:  brk,
		provider: provider,
		filter:   filter,
		executor: executor,
		cfg:      cfg,
		log:      log,
	}
}

// turn is the per-request mutable state of one pass through the state machine.
type turn struct {
	id          string
	req         *domain.ChatRequest
	emit        func(domain.StreamEvent)
	callContext *tools.CallContext

	conversationID string
	usage          domain.Usage
	provenance     []domain.ToolCallRecord
	toolsUsed      map[string]bool
	warnings       []string
	streamed       strings.Builder
	finalizeOnce   sync.Once
}

func (t *turn) send(ev domain.StreamEvent) {
	if t.emit == nil {
		return
	}
	ev.TurnID = t.id
	t.emit(ev)
}

func (t *turn) phase(p domain.Phase) {
	t.send(domain.StreamEvent{Type: domain.StreamEventPhase, Phase: p})
}

// Canned user-facing fallbacks per fatal error class. The real error is logged
// server-side with the turn id.
var fallbackText = map[domain.ErrorCode]string{
	domain.ErrCodeInsufficientBalance: "Your balance is too low to run this request. Top up or wait for your monthly refill and try again.",
	domain.ErrCodeProviderUnavailable: "The assistant is temporarily unavailable. Please try again in a moment.",
	domain.ErrCodeNoFinalText:         "I couldn't finish putting an answer together this time. Please try rephrasing your question.",
	domain.ErrCodeInternal:            "Something went wrong on our side. Please try again.",
}

// Run executes one turn. When emit is non-nil the turn streams: events are
// pushed in order and the concatenation of all text_delta payloads equals the
// persisted assistant message content byte for byte. When emit is nil only the
// terminal response is returned. TurnBudget bounds the whole turn: once it
// elapses no further upstream calls are made, and the best text so far is the
// answer.
func (o *Orchestrator) Run(ctx context.Context, req *domain.ChatRequest, emit func(domain.StreamEvent)) (*domain.ChatResponse, error) {
	start := time.Now()
	if o.cfg.TurnBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TurnBudget)
		defer cancel()
	}
	t := &turn{
		id:        domain.NewID("turn"),
		req:       req,
		emit:      emit,
		toolsUsed: map[string]bool{},
	}
	t.send(domain.StreamEvent{Type: domain.StreamEventConnected})

	resp := o.run(ctx, t)
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if resp.ErrorCode != "" {
		metrics.TurnsTotal.WithLabelValues(string(resp.ErrorCode)).Inc()
	} else {
		metrics.TurnsTotal.WithLabelValues("done").Inc()
	}
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, t *turn) *domain.ChatResponse {
	req := t.req
	if strings.TrimSpace(req.Message) == "" {
		return t.fail(domain.ErrCodeMessageRequired, "message is required")
	}

	// Pre-flight affordability gate. Internal evaluation bypasses billing
	// entirely.
	if req.Plan != domain.PlanInternal {
		if err := o.store.EnsureBalance(ctx, req.UserID, req.Plan, o.cfg.SignupBalanceCents); err != nil {
			o.log.Error("balance bootstrap failed", "turn_id", t.id, "error", err)
			return t.fail(domain.ErrCodeInternal, "balance lookup failed")
		}
		balance, err := o.meter.CheckFloor(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, billing.ErrInsufficientBalance) {
				resp := t.fail(domain.ErrCodeInsufficientBalance, "balance below single-query floor")
				resp.InsufficientBalance = true
				return resp
			}
			o.log.Error("pre-flight balance check failed", "turn_id", t.id, "error", err)
			return t.fail(domain.ErrCodeInternal, "balance lookup failed")
		}
		// Above the floor but possibly not enough for a long research turn;
		// warn up front rather than cutting off mid-turn.
		if est := o.meter.EstimateCost(req.Message, len(req.Attachments) > 0); balance.BalanceCents < est.MaxCents {
			t.warnings = append(t.warnings, "balance is running low and may not cover a long research turn")
		}
	}

	// UNDERSTANDING
	t.phase(domain.PhaseUnderstanding)
	domains := detectDomains(req.Message, req.Attachments)
	category := detectCitationCategory(req.Message)

	conv, created, err := o.store.GetOrCreateConversation(ctx, req.ConversationID, req.UserID, req.VehicleSlug)
	if err != nil {
		o.log.Error("conversation lookup failed", "turn_id", t.id, "error", err)
		return t.fail(domain.ErrCodeInternal, "conversation lookup failed")
	}
	t.conversationID = conv.ConversationID
	t.callContext = &tools.CallContext{
		UserID:         req.UserID,
		ConversationID: conv.ConversationID,
		VehicleSlug:    req.VehicleSlug,
		Cache:          tools.NewTurnCache(),
	}

	history, err := o.loadHistory(ctx, conv.ConversationID, created, req.History)
	if err != nil {
		o.log.Error("history load failed", "turn_id", t.id, "error", err)
		return t.fail(domain.ErrCodeInternal, "history load failed")
	}

	if err := o.store.AddMessage(ctx, &domain.Message{
		MessageID:      domain.NewID("msg"),
		ConversationID: conv.ConversationID,
		Role:           domain.RoleUser,
		Content:        req.Message,
		Attachments:    req.Attachments,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		o.log.Error("user message persist failed", "turn_id", t.id, "error", err)
		return t.fail(domain.ErrCodeInternal, "message persist failed")
	}

	selected, err := o.filter.Select(ctx, domains, req.Plan, req.Toggles)
	if err != nil {
		o.log.Error("tool selection failed", "turn_id", t.id, "error", err)
		return t.fail(domain.ErrCodeInternal, "tool selection failed")
	}

	// THINKING and the RESEARCHING/FORMULATING loop.
	t.phase(domain.PhaseThinking)
	finalText, errCode := o.loop(ctx, t, history, selected, category)
	if errCode != "" {
		o.persistErrorMessage(ctx, t, errCode)
		return t.fail(errCode, "turn failed")
	}

	// Citation post-pass. Deltas were withheld for evidence-sensitive
	// categories, so the revised text is what streams.
	if category != categoryNone && finalText != "" {
		revised, ok := o.enforceCitations(ctx, t, category, finalText)
		if !ok {
			t.warnings = append(t.warnings, "citation enforcement unavailable, answer may lack sources")
		}
		finalText = revised
		t.streamDeferred(finalText)
	}

	o.finalize(ctx, t, finalText)

	resp := &domain.ChatResponse{
		ConversationID: t.conversationID,
		Text:           finalText,
		Usage:          t.usage,
		ToolsUsed:      t.toolNames(),
		Warnings:       t.warnings,
	}
	t.phase(domain.PhaseDone)
	t.send(domain.StreamEvent{Type: domain.StreamEventDone, Done: &domain.DoneEvent{
		ConversationID: t.conversationID,
		Usage:          t.usage,
		ToolsUsed:      resp.ToolsUsed,
		Warnings:       t.warnings,
	}})
	return resp
}

// loop runs the provider iteration cycle and returns the final draft text.
// Text deltas stream live unless a citation category was detected, in which
// case they are withheld for the post-pass.
func (o *Orchestrator) loop(ctx context.Context, t *turn, history []llm.Message,
	selected []domain.ToolDescriptor, category citationCategory) (string, domain.ErrorCode) {

	messages := append(history, llm.Message{Role: "user", Text: t.req.Message})
	defs := make([]llm.ToolDefinition, len(selected))
	for i, d := range selected {
		defs[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}

	liveStream := t.emit != nil && category == categoryNone
	var onDelta llm.DeltaFunc
	if liveStream {
		onDelta = func(text string) {
			t.streamed.WriteString(text)
			t.send(domain.StreamEvent{Type: domain.StreamEventTextDelta, Delta: text})
		}
	}

	maxIter := t.req.Plan.MaxIterations()
	lastText := ""
	for iteration := 0; iteration < maxIter; iteration++ {
		if ctx.Err() != nil {
			// Cancellation or turn budget exhaustion between iterations; stop
			// issuing upstream calls. Whatever text exists is the best answer.
			if lastText != "" {
				t.warnings = append(t.warnings, "answer may be incomplete, research was interrupted")
				return lastText, ""
			}
			return "", domain.ErrCodeInternal
		}

		provReq := &llm.Request{
			System:    o.systemPrompt(t.req.VehicleSlug),
			Messages:  messages,
			Tools:     defs,
			MaxTokens: o.cfg.MaxTokens,
		}
		resp, err := o.callProvider(ctx, provReq, onDelta)
		if err != nil {
			if iteration == 0 {
				o.log.Error("initial provider call failed", "turn_id", t.id, "error", err)
				return "", domain.ErrCodeProviderUnavailable
			}
			// Mid-loop provider failure: settle for the best text so far.
			o.log.Warn("provider call failed mid-loop, using last text",
				"turn_id", t.id, "iteration", iteration, "error", err)
			if lastText != "" {
				t.warnings = append(t.warnings, "answer may be incomplete, research was interrupted")
				return lastText, ""
			}
			return "", domain.ErrCodeProviderUnavailable
		}

		t.usage.Add(domain.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})
		if resp.Text != "" {
			lastText = resp.Text
		}

		if resp.StopReason != domain.StopReasonToolUse || len(resp.ToolUses) == 0 {
			return lastText, o.requireText(lastText, t)
		}

		// RESEARCHING
		t.phase(domain.PhaseResearching)
		invocations := make([]domain.ToolInvocation, len(resp.ToolUses))
		for i, tu := range resp.ToolUses {
			invocations[i] = domain.ToolInvocation{CallID: tu.ID, Name: tu.Name, Input: tu.Input}
			t.send(domain.StreamEvent{Type: domain.StreamEventToolStart, ToolStart: &domain.ToolStartEvent{
				CallID: tu.ID, Name: tu.Name, Input: tu.Input,
			}})
		}

		// In-flight tools run to completion even if the client disconnects;
		// the iteration check above stops the loop afterwards.
		results := o.executor.ExecuteAll(context.WithoutCancel(ctx), invocations, t.req.Plan, t.callContext)

		toolResults := make([]llm.ToolResultBlock, len(results))
		for i, res := range results {
			t.usage.ToolCalls++
			t.toolsUsed[res.Name] = true
			t.provenance = append(t.provenance, res.Record(invocations[i].Input))
			metrics.ObserveToolResult(res.Name, res.Err != nil, res.CacheHit, toolErrCode(res.Err))

			var ev domain.ToolResultEvent
			ev.CallID, ev.Name, ev.DurationMs, ev.CacheHit = res.CallID, res.Name, res.Duration.Milliseconds(), res.CacheHit
			block := llm.ToolResultBlock{ToolUseID: res.CallID}
			if res.Err != nil {
				ev.IsError, ev.Err = true, res.Err
				block.IsError = true
				errJSON, _ := json.Marshal(res.Err)
				block.Content = string(errJSON)
			} else {
				block.Content = string(res.Output)
			}
			toolResults[i] = block
			t.send(domain.StreamEvent{Type: domain.StreamEventToolResult, ToolResult: &ev})
		}

		// FORMULATING
		messages = append(messages,
			llm.Message{Role: "assistant", Text: resp.Text, ToolUses: resp.ToolUses},
			llm.Message{Role: "user", ToolResults: toolResults},
		)
		t.phase(domain.PhaseFormulating)
	}

	// Iteration cap reached: the best text so far is the answer.
	if lastText != "" {
		t.warnings = append(t.warnings, "research depth limit reached")
		return lastText, ""
	}
	return "", domain.ErrCodeNoFinalText
}

func (o *Orchestrator) requireText(text string, t *turn) domain.ErrorCode {
	if text == "" {
		o.log.Error("provider finished without producing text", "turn_id", t.id)
		return domain.ErrCodeNoFinalText
	}
	return ""
}

// callProvider routes one model call through the circuit breaker with the
// hard provider timeout. A dispatched call runs to completion even on client
// disconnect; cancellation is honored between iterations.
func (o *Orchestrator) callProvider(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProviderTimeout)
	defer cancel()

	var resp *llm.Response
	err := o.breaker.Execute(callCtx, func(ctx context.Context) error {
		var err error
		if onDelta != nil {
			resp, err = o.provider.Stream(ctx, req, onDelta)
		} else {
			resp, err = o.provider.Complete(ctx, req)
		}
		return err
	})
	switch {
	case err == nil:
		metrics.ProviderCalls.WithLabelValues("ok").Inc()
	case errors.Is(err, breaker.ErrCircuitOpen):
		metrics.ProviderCalls.WithLabelValues("open").Inc()
	default:
		metrics.ProviderCalls.WithLabelValues("error").Inc()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// streamDeferred emits withheld text as deltas after the citation pass, in
// chunks, so consumers reconstruct exactly the persisted content.
func (t *turn) streamDeferred(text string) {
	if t.emit == nil {
		return
	}
	const chunk = 64
	for i := 0; i < len(text); i += chunk {
		end := min(i+chunk, len(text))
		t.streamed.WriteString(text[i:end])
		t.send(domain.StreamEvent{Type: domain.StreamEventTextDelta, Delta: text[i:end]})
	}
}

// finalize persists the assistant message and debits actual usage. Runs at
// most once per turn regardless of how the caller path unwinds, and uses a
// detached context so a disconnect cannot drop the record or the debit.
func (o *Orchestrator) finalize(ctx context.Context, t *turn, finalText string) {
	t.finalizeOnce.Do(func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		// Streaming consumers reconstruct the message from deltas; persisted
		// content must be that exact reconstruction.
		content := finalText
		if t.emit != nil {
			content = t.streamed.String()
		}

		if t.req.Plan != domain.PlanInternal {
			res, err := o.meter.DeductUsage(pctx, t.req.UserID, t.usage)
			if err != nil {
				o.log.Error("usage debit failed", "turn_id", t.id, "error", err)
			} else {
				t.usage.CostCents = res.CostCents
				metrics.CostCentsTotal.Add(float64(res.CostCents))
			}
		}
		metrics.TokensTotal.WithLabelValues("input").Add(float64(t.usage.InputTokens))
		metrics.TokensTotal.WithLabelValues("output").Add(float64(t.usage.OutputTokens))

		usage := t.usage
		if err := o.store.AddMessage(pctx, &domain.Message{
			MessageID:      domain.NewID("msg"),
			ConversationID: t.conversationID,
			Role:           domain.RoleAssistant,
			Content:        content,
			ToolCalls:      t.provenance,
			Usage:          &usage,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			o.log.Error("assistant message persist failed", "turn_id", t.id, "error", err)
		}
	})
}

// persistErrorMessage records an error-tagged assistant message for audit.
// The user's message is already persisted; the conversation stays usable.
func (o *Orchestrator) persistErrorMessage(ctx context.Context, t *turn, code domain.ErrorCode) {
	if t.conversationID == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	usage := t.usage
	if err := o.store.AddMessage(pctx, &domain.Message{
		MessageID:      domain.NewID("msg"),
		ConversationID: t.conversationID,
		Role:           domain.RoleAssistant,
		Content:        fallbackText[code],
		ToolCalls:      t.provenance,
		Usage:          &usage,
		ErrorCode:      code,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		o.log.Error("error message persist failed", "turn_id", t.id, "error", err)
	}
}

func (t *turn) fail(code domain.ErrorCode, logMsg string) *domain.ChatResponse {
	text := fallbackText[code]
	if text == "" {
		text = fallbackText[domain.ErrCodeInternal]
	}
	t.phase(domain.PhaseError)
	t.send(domain.StreamEvent{Type: domain.StreamEventError, Error: &domain.ErrorEvent{
		Code: code, Message: text,
	}})
	return &domain.ChatResponse{
		ConversationID: t.conversationID,
		Text:           text,
		Usage:          t.usage,
		ToolsUsed:      t.toolNames(),
		Warnings:       t.warnings,
		ErrorCode:      code,
	}
}

func (t *turn) toolNames() []string {
	if len(t.toolsUsed) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.toolsUsed))
	for n := range t.toolsUsed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// loadHistory returns the provider-facing history. Persisted history is the
// source of truth; inline history is a fallback for brand-new conversations.
func (o *Orchestrator) loadHistory(ctx context.Context, conversationID string, created bool, inline []domain.InlineMessage) ([]llm.Message, error) {
	if created {
		out := make([]llm.Message, 0, len(inline))
		for _, m := range inline {
			out = append(out, llm.Message{Role: string(m.Role), Text: m.Content})
		}
		return out, nil
	}

	persisted, err := o.store.GetMessages(ctx, conversationID, 40)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(persisted))
	for _, m := range persisted {
		if m.ErrorCode != "" || m.Content == "" {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Text: m.Content})
	}
	return out, nil
}

func (o *Orchestrator) systemPrompt(vehicleSlug string) string {
	var b strings.Builder
	b.WriteString("You are Revlane, an automotive enthusiast assistant. ")
	b.WriteString("Answer with specific, verifiable information and use the available tools to look up ")
	b.WriteString("specifications, reliability data, recalls, lap times, maintenance schedules, and market prices ")
	b.WriteString("rather than guessing. Cite tool-sourced facts by their source locator when present.")
	if vehicleSlug != "" {
		fmt.Fprintf(&b, " The user's current vehicle context is %q; assume questions refer to it unless stated otherwise.", vehicleSlug)
	}
	return b.String()
}

func toolErrCode(e *domain.ToolError) string {
	if e == nil {
		return ""
	}
	return e.Code
}
