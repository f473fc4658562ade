// Package briefing turns surveillance figures into narrative summaries and
// runs the IPC advisor chat through the configured text generator.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/domain/actionplan"
	"github.com/ipc/ipc/internal/domain/audit"
	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/ai"
)

// MaxTurns is the number of most recent chat messages forwarded upstream.
const MaxTurns = 20

var ErrEmptyConversation = errors.New("conversation must contain at least one message")

const executivePrompt = `You are the infection prevention and control (IPC) lead of a hospital.
Write a concise executive briefing for hospital management from the figures provided.
Cover device-associated infection rates, notable wards, audit compliance and overdue actions.
Use plain language, at most five short paragraphs, and do not invent figures.`

const advisorPrompt = `You are an infection prevention and control advisor for hospital staff.
Answer questions about isolation precautions, care bundles, hand hygiene, outbreak response and
surveillance definitions. Be practical and brief, and refer users to local policy when unsure.`

type RateSource interface {
	Rates(ctx context.Context, p surveillance.Period) (*surveillance.RateSnapshot, error)
}

type ComplianceSource interface {
	Compliance(ctx context.Context, p surveillance.Period, kind string) ([]audit.ComplianceSummary, error)
}

type PlanSource interface {
	Active(ctx context.Context) ([]*actionplan.Plan, error)
}

type Briefing struct {
	Summary     string    `json:"summary"`
	Model       string    `json:"model"`
	PeriodFrom  string    `json:"period_from,omitempty"`
	PeriodTo    string    `json:"period_to,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Service struct {
	rates      RateSource
	compliance ComplianceSource
	plans      PlanSource
	gen        ai.Generator
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(rates RateSource, compliance ComplianceSource, plans PlanSource, gen ai.Generator, logger zerolog.Logger) *Service {
	if gen == nil {
		gen = ai.Disabled{}
	}
	return &Service{
		rates:      rates,
		compliance: compliance,
		plans:      plans,
		gen:        gen,
		logger:     logger.With().Str("component", "briefing").Logger(),
		now:        time.Now,
	}
}

// Facts is the material an executive briefing is written from.
type Facts struct {
	Period     surveillance.Period
	Snapshot   *surveillance.RateSnapshot
	Compliance []audit.ComplianceSummary
	Active     []*actionplan.Plan
	Today      string
}

// BuildPrompt renders facts as the user message of an executive briefing.
func BuildPrompt(f Facts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reporting period: %s\n", periodLabel(f.Period))

	if f.Snapshot != nil {
		fmt.Fprintf(&b, "\nInfection rates (%d census days, %d validated cases):\n", f.Snapshot.LogCount, f.Snapshot.CaseCount)
		for _, w := range surveillance.AllBuckets {
			r := f.Snapshot.Report.Bucket(w)
			fmt.Fprintf(&b, "- %s: HAP %.2f, VAP %.2f, CAUTI %.2f, CLABSI %.2f per 1000 days; overall %.2f; %d patient-days, %d cases\n",
				w, r.HAP, r.VAP, r.CAUTI, r.CLABSI, r.Overall, r.PatientDays, r.Counts.Total())
		}
		if len(f.Snapshot.Alerts) > 0 {
			b.WriteString("\nThreshold alerts:\n")
			for _, a := range f.Snapshot.Alerts {
				fmt.Fprintf(&b, "- [%s] %s\n", a.Severity, a.Message)
			}
		}
	}

	if len(f.Compliance) > 0 {
		b.WriteString("\nAudit compliance:\n")
		for _, c := range f.Compliance {
			fmt.Fprintf(&b, "- %s in %s: %.1f%% (%d of %d observations, %d audits)\n",
				c.Kind, c.Area, c.Compliance, c.Compliant, c.Observations, c.Audits)
		}
	} else {
		b.WriteString("\nNo audits were recorded in the period.\n")
	}

	overdue := 0
	for _, p := range f.Active {
		if p.Overdue(f.Today) {
			overdue++
		}
	}
	fmt.Fprintf(&b, "\nAction plans: %d active, %d overdue.\n", len(f.Active), overdue)
	for _, p := range f.Active {
		if p.Overdue(f.Today) {
			fmt.Fprintf(&b, "- OVERDUE since %s: %s (%s, owner %s)\n", p.DueDate, p.Title, p.Area, p.Owner)
		}
	}
	return b.String()
}

func periodLabel(p surveillance.Period) string {
	from, to := "start of records", "today"
	if !p.From.IsZero() {
		from = p.From.Format("2006-01-02")
	}
	if !p.To.IsZero() {
		to = p.To.Format("2006-01-02")
	}
	return from + " to " + to
}

func (s *Service) gather(ctx context.Context, p surveillance.Period) (Facts, error) {
	f := Facts{Period: p, Today: s.now().Format("2006-01-02")}
	var err error
	if f.Snapshot, err = s.rates.Rates(ctx, p); err != nil {
		return f, fmt.Errorf("load rates: %w", err)
	}
	if f.Compliance, err = s.compliance.Compliance(ctx, p, ""); err != nil {
		return f, fmt.Errorf("load audit compliance: %w", err)
	}
	if f.Active, err = s.plans.Active(ctx); err != nil {
		return f, fmt.Errorf("load action plans: %w", err)
	}
	return f, nil
}

// ExecutiveSummary writes a management briefing for the period.
func (s *Service) ExecutiveSummary(ctx context.Context, p surveillance.Period) (*Briefing, error) {
	facts, err := s.gather(ctx, p)
	if err != nil {
		return nil, err
	}
	out, err := s.gen.Complete(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: executivePrompt},
		{Role: ai.RoleUser, Content: BuildPrompt(facts)},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("executive summary generation failed")
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	b := &Briefing{
		Summary:     out.Text,
		Model:       out.Model,
		GeneratedAt: s.now().UTC(),
	}
	if facts.Snapshot != nil {
		b.PeriodFrom, b.PeriodTo = facts.Snapshot.PeriodFrom, facts.Snapshot.PeriodTo
	}
	return b, nil
}

// Chat answers the latest user turn. Only user and assistant messages are
// accepted; the system prompt is always supplied here.
func (s *Service) Chat(ctx context.Context, conversation []ai.Message) (*ai.Completion, error) {
	if len(conversation) == 0 {
		return nil, ErrEmptyConversation
	}
	for i, m := range conversation {
		if m.Role != ai.RoleUser && m.Role != ai.RoleAssistant {
			return nil, fmt.Errorf("messages[%d].role must be user or assistant", i)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, fmt.Errorf("messages[%d].content is required", i)
		}
	}
	if last := conversation[len(conversation)-1]; last.Role != ai.RoleUser {
		return nil, fmt.Errorf("the last message must be from the user")
	}
	if len(conversation) > MaxTurns {
		conversation = conversation[len(conversation)-MaxTurns:]
	}
	msgs := make([]ai.Message, 0, len(conversation)+1)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: advisorPrompt})
	msgs = append(msgs, conversation...)
	out, err := s.gen.Complete(ctx, msgs)
	if err != nil {
		s.logger.Warn().Err(err).Int("turns", len(conversation)).Msg("advisor chat failed")
		return nil, fmt.Errorf("advisor chat: %w", err)
	}
	return out, nil
}
