// Package executor invokes personas against the configured model provider and
// turns raw completions into persisted deliberation records: contributions,
// clarification requests, research queries and cost ledger entries.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/internal/util"
	"github.com/hupe1980/boardroom/logging"
	"github.com/hupe1980/boardroom/model"
)

// Directive markers personas may emit on their own line. They are extracted
// from the completion and stripped from the stored contribution content.
var (
	researchPattern = regexp.MustCompile(`(?m)^RESEARCH:\s*(.+)\s*$`)
	clarifyPattern  = regexp.MustCompile(`(?m)^CLARIFY\((CRITICAL|NICE_TO_HAVE)\):\s*(.+)\s*$`)
)

// contributionPrompt is the user-turn template for one persona invocation.
const contributionPrompt = `You are contributing to a structured deliberation.

Problem: {{.Problem}}
{{if .Context}}Background: {{.Context}}
{{end}}{{if .Goal}}Current focus: {{.Goal}}
{{end}}Round {{.Round}} of {{.MaxRounds}}.
{{if .Clarifications}}
Answered clarifications:
{{.Clarifications}}
{{end}}{{if .History}}
Prior contributions:
{{.History}}
{{end}}
Give your expert contribution for this round. If you need external facts,
emit a line "RESEARCH: <query>". If you need a human decision before you can
proceed, emit a line "CLARIFY(CRITICAL): <question>"; for optional questions
use "CLARIFY(NICE_TO_HAVE): <question>".`

// Invocation describes one persona turn.
type Invocation struct {
	Session    *core.Session
	Persona    core.Persona
	SubProblem core.SubProblem
	Phase      core.Phase
	Operation  model.Operation
	// Answered clarifications and prior contributions folded into the prompt.
	Clarifications []core.Clarification
	History        []core.Contribution
	// Embed requests an embedding on the resulting contribution so it can
	// seed future similarity search.
	Embed bool
}

// Outcome is the persisted product of one invocation. A permanent provider
// failure yields a failed contribution plus an error cost record instead of
// an Invoke error, so the facilitator can re-decide on the next step.
type Outcome struct {
	Contribution   core.Contribution
	Clarifications []core.Clarification
	ResearchQuery  string
	CostRecord     core.CostRecord
}

// Options configures an Executor.
type Options struct {
	// MaxAttempts bounds retries for transient provider errors.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
	MaxTokens   int64
	Embedder    embedding.Engine
	Logger      logging.Logger
	Now         func() time.Time
}

// Executor runs persona turns through the model router.
//
// Contract:
//   - transient provider errors are retried up to MaxAttempts with
//     exponential backoff; permanent errors are never retried
//   - every model call, successful or not, produces exactly one cost record
//   - Dispatch invokes personas concurrently but returns outcomes in the
//     order of the invocations passed in
type Executor struct {
	router *model.Router
	opts   Options
}

// New creates an Executor over the given model router.
func New(router *model.Router, optFns ...func(o *Options)) *Executor {
	opts := Options{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		Logger:      logging.NoOpLogger{},
		Now:         time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Executor{router: router, opts: opts}
}

// Invoke runs a single persona turn. The returned error is reserved for
// infrastructure failures (context cancellation, prompt assembly); provider
// failures are folded into the outcome.
func (e *Executor) Invoke(ctx context.Context, inv Invocation) (*Outcome, error) {
	prompt, err := e.buildPrompt(inv)
	if err != nil {
		return nil, fmt.Errorf("build prompt for persona %s: %w", inv.Persona.Code, err)
	}

	op := inv.Operation
	if op == "" {
		op = model.OpContribution
	}
	m := e.router.Pick(op)
	info := m.Info()

	start := e.opts.Now()
	resp, genErr := e.generate(ctx, m, model.Request{
		System:    inv.Persona.SystemPrompt,
		Messages:  []model.Message{{Role: "user", Text: prompt}},
		MaxTokens: e.opts.MaxTokens,
	})
	latency := e.opts.Now().Sub(start)

	now := e.opts.Now().UTC()
	outcome := &Outcome{
		Contribution: core.Contribution{
			ID:          util.NewID(),
			SessionID:   inv.Session.ID,
			PersonaCode: inv.Persona.Code,
			Round:       inv.Session.RoundNumber,
			Phase:       inv.Phase,
			SubProblem:  inv.SubProblem.Index,
			Model:       info.Name,
			Created:     now,
		},
		CostRecord: core.CostRecord{
			ID:          util.NewID(),
			SessionID:   inv.Session.ID,
			Provider:    info.Provider,
			Model:       info.Name,
			Operation:   string(op),
			Phase:       inv.Phase,
			PersonaCode: inv.Persona.Code,
			Round:       inv.Session.RoundNumber,
			Latency:     latency,
			Created:     now,
		},
	}

	if genErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if mc, ok := e.opts.Logger.(logging.ModelCallLogger); ok {
			mc.LogModelCall(info.Name, string(op), 0, latency, false, genErr)
		}
		e.opts.Logger.Error("persona invocation failed", "persona", inv.Persona.Code, "error", genErr)
		outcome.Contribution.Failed = true
		outcome.Contribution.Error = genErr.Error()
		outcome.CostRecord.Status = "error"
		outcome.CostRecord.Error = genErr.Error()
		return outcome, nil
	}

	usage := resp.Usage
	cost := model.Cost(info, usage)
	avoided := e.router.Avoided(op, usage)
	if mc, ok := e.opts.Logger.(logging.ModelCallLogger); ok {
		mc.LogModelCall(info.Name, string(op), usage.Total(), latency, true, nil)
	}

	content, researchQuery, clarifications := e.parseDirectives(inv, resp.Text, now)

	outcome.Contribution.Content = content
	outcome.Contribution.Cost = cost
	outcome.Contribution.Tokens = usage.Total()
	outcome.ResearchQuery = researchQuery
	outcome.Clarifications = clarifications
	outcome.CostRecord.Status = "ok"
	outcome.CostRecord.Cost = cost
	outcome.CostRecord.Tokens = core.TokenBreakdown{
		Input:         usage.InputTokens,
		Output:        usage.OutputTokens,
		CacheCreation: usage.CacheCreationTokens,
		CacheRead:     usage.CacheReadTokens,
	}
	if avoided > 0 {
		outcome.CostRecord.CostAvoided = avoided
		outcome.CostRecord.Optimization = "economy_routing"
	}

	if inv.Embed && e.opts.Embedder != nil {
		vec, embErr := e.opts.Embedder.Embed(ctx, content)
		if embErr != nil {
			// degrade: the contribution just won't seed similarity search
			e.opts.Logger.Warn("embedding failed", "persona", inv.Persona.Code, "error", embErr)
		} else {
			outcome.Contribution.Embedding = vec
		}
	}
	return outcome, nil
}

// Dispatch runs independent invocations concurrently and returns their
// outcomes in input order so the commit order stays deterministic.
func (e *Executor) Dispatch(ctx context.Context, invs []Invocation) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(invs))
	g, gctx := errgroup.WithContext(ctx)
	for i, inv := range invs {
		g.Go(func() error {
			out, err := e.Invoke(gctx, inv)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// generate calls the model with bounded retry for transient failures.
func (e *Executor) generate(ctx context.Context, m model.Model, req model.Request) (*model.Response, error) {
	var lastErr error
	backoff := e.opts.BaseBackoff
	for attempt := 0; attempt < e.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		resp, err := m.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !model.IsTransient(err) {
			return nil, err
		}
		e.opts.Logger.Warn("transient provider error, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (e *Executor) buildPrompt(inv Invocation) (string, error) {
	var clarifications strings.Builder
	for _, c := range inv.Clarifications {
		if !c.IsAnswered() {
			continue
		}
		fmt.Fprintf(&clarifications, "- Q (%s): %s\n  A: %s\n", c.PersonaCode, c.Question, c.Answer)
	}
	var history strings.Builder
	for _, c := range inv.History {
		if c.Failed {
			continue
		}
		fmt.Fprintf(&history, "[%s, round %d] %s\n", c.PersonaCode, c.Round, c.Content)
	}
	return util.RenderTemplate(contributionPrompt, map[string]any{
		"Problem":        inv.Session.Problem,
		"Context":        inv.Session.Context,
		"Goal":           inv.SubProblem.Goal,
		"Round":          inv.Session.RoundNumber + 1,
		"MaxRounds":      inv.Session.MaxRounds,
		"Clarifications": strings.TrimRight(clarifications.String(), "\n"),
		"History":        strings.TrimRight(history.String(), "\n"),
	})
}

// parseDirectives extracts RESEARCH and CLARIFY lines from a completion and
// returns the content with directive lines removed. Only the first research
// query is honored per turn.
func (e *Executor) parseDirectives(inv Invocation, text string, now time.Time) (content, researchQuery string, clarifications []core.Clarification) {
	if m := researchPattern.FindStringSubmatch(text); m != nil {
		researchQuery = strings.TrimSpace(m[1])
	}
	for _, m := range clarifyPattern.FindAllStringSubmatch(text, -1) {
		clarifications = append(clarifications, core.Clarification{
			ID:          util.NewID(),
			SessionID:   inv.Session.ID,
			PersonaCode: inv.Persona.Code,
			Question:    strings.TrimSpace(m[2]),
			Priority:    core.Priority(m[1]),
			Round:       inv.Session.RoundNumber,
			Created:     now,
		})
	}
	content = researchPattern.ReplaceAllString(text, "")
	content = clarifyPattern.ReplaceAllString(content, "")
	return strings.TrimSpace(content), researchQuery, clarifications
}
