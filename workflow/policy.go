// workflow/policy.go
package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"leaseexit/models"
)

//go:embed policy.yaml
var defaultPolicy []byte

// EventKind names what happened to a case.
type EventKind string

const (
	EventCaseCreated       EventKind = "case_created"
	EventFormSubmitted     EventKind = "form_submitted"
	EventApprovalRecorded  EventKind = "approval_recorded"
	EventRevisionRequested EventKind = "revision_requested"
)

// allRecipients expands to every stakeholder.
const allRecipients models.Role = "all"

// Transition moves a case one step forward (or back, for the revision rule).
type Transition struct {
	From     models.Step   `yaml:"from"`
	To       models.Step   `yaml:"to"`
	Event    EventKind     `yaml:"event"`
	FormType string        `yaml:"form_type"`
	Role     models.Role   `yaml:"role"`
	Action   string        `yaml:"action"`
	Notify   []models.Role `yaml:"notify"`
	Subject  string        `yaml:"subject"`
	Message  string        `yaml:"message"`

	subject *template.Template
	message *template.Template
}

// Branch is one closing outcome of the approval phase.
type Branch struct {
	To      models.Step   `yaml:"to"`
	Action  string        `yaml:"action"`
	Notify  []models.Role `yaml:"notify"`
	Subject string        `yaml:"subject"`
	Message string        `yaml:"message"`

	subject *template.Template
	message *template.Template
}

type Reminder struct {
	Subject string `yaml:"subject"`
	Message string `yaml:"message"`

	subject *template.Template
	message *template.Template
}

type ApprovalPhase struct {
	From     models.Step   `yaml:"from"`
	Required []models.Role `yaml:"required"`
	Approved Branch        `yaml:"approved"`
	Rejected Branch        `yaml:"rejected"`
	Reminder Reminder      `yaml:"reminder"`
}

// Policy is the single source of the step order, who acts at each step, who
// is told about it and which roles must approve.
type Policy struct {
	Stakeholders []models.Role `yaml:"stakeholders"`
	Steps        []models.Step `yaml:"steps"`
	Transitions  []Transition  `yaml:"transitions"`
	Approval     ApprovalPhase `yaml:"approval"`
	Revision     Transition    `yaml:"revision"`

	order map[models.Step]int
}

// MessageData feeds the subject and message templates.
type MessageData struct {
	CaseID          string
	LeaseID         string
	PropertyAddress string
	ExitDate        string
	ReasonForExit   string
	Actor           string
	Comments        string
	Pending         string
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a policy file. An empty path yields the embedded policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse workflow policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow policy: %w", err)
	}
	return &p, nil
}

func (p *Policy) validate() error {
	if len(p.Stakeholders) == 0 {
		return fmt.Errorf("stakeholders are required")
	}
	for _, r := range p.Stakeholders {
		if !r.IsKnown() {
			return fmt.Errorf("unknown stakeholder role %q", r)
		}
	}
	if len(p.Steps) < 2 {
		return fmt.Errorf("at least two steps are required")
	}

	p.order = make(map[models.Step]int, len(p.Steps))
	for i, s := range p.Steps {
		if !s.IsKnown() {
			return fmt.Errorf("unknown step %q", s)
		}
		if _, dup := p.order[s]; dup {
			return fmt.Errorf("duplicate step %q", s)
		}
		p.order[s] = i
	}

	if len(p.Transitions) != len(p.Steps)-1 {
		return fmt.Errorf("expected %d transitions, got %d", len(p.Steps)-1, len(p.Transitions))
	}
	seenForms := make(map[string]bool)
	for i := range p.Transitions {
		t := &p.Transitions[i]
		if t.From != p.Steps[i] || t.To != p.Steps[i+1] {
			return fmt.Errorf("transition %d must move %s -> %s, got %s -> %s", i, p.Steps[i], p.Steps[i+1], t.From, t.To)
		}
		wantEvent := EventFormSubmitted
		if i == 0 {
			wantEvent = EventCaseCreated
		}
		if t.Event != wantEvent {
			return fmt.Errorf("transition %s -> %s: event must be %s", t.From, t.To, wantEvent)
		}
		if t.FormType == "" {
			return fmt.Errorf("transition %s -> %s: form_type is required", t.From, t.To)
		}
		if seenForms[t.FormType] {
			return fmt.Errorf("form type %q is used by more than one transition", t.FormType)
		}
		seenForms[t.FormType] = true
		if err := p.prepare(t); err != nil {
			return err
		}
	}

	a := &p.Approval
	if a.From != p.Steps[len(p.Steps)-1] {
		return fmt.Errorf("approval phase must follow the last step %s, got %s", p.Steps[len(p.Steps)-1], a.From)
	}
	if len(a.Required) == 0 {
		return fmt.Errorf("approval phase needs required approvers")
	}
	for _, r := range a.Required {
		if !models.ContainsRole(p.Stakeholders, r) {
			return fmt.Errorf("required approver %q is not a stakeholder", r)
		}
	}
	for _, b := range []*Branch{&a.Approved, &a.Rejected} {
		if !b.To.IsTerminal() {
			return fmt.Errorf("approval outcome %q is not a terminal step", b.To)
		}
		if _, inOrder := p.order[b.To]; inOrder {
			return fmt.Errorf("approval outcome %q must not be part of the step sequence", b.To)
		}
		notify, err := p.expand(b.Notify)
		if err != nil {
			return err
		}
		b.Notify = notify
		if b.subject, b.message, err = parseTemplates(string(b.To), b.Subject, b.Message); err != nil {
			return err
		}
	}
	if a.Approved.To == a.Rejected.To {
		return fmt.Errorf("approved and rejected outcomes must differ")
	}
	var err error
	if a.Reminder.subject, a.Reminder.message, err = parseTemplates("reminder", a.Reminder.Subject, a.Reminder.Message); err != nil {
		return err
	}

	r := &p.Revision
	if r.From != a.Rejected.To {
		return fmt.Errorf("revision must start from %s", a.Rejected.To)
	}
	if _, ok := p.order[r.To]; !ok {
		return fmt.Errorf("revision target %q is not a workflow step", r.To)
	}
	if r.Event != EventRevisionRequested {
		return fmt.Errorf("revision event must be %s", EventRevisionRequested)
	}
	return p.prepare(r)
}

func (p *Policy) prepare(t *Transition) error {
	if !models.ContainsRole(p.Stakeholders, t.Role) {
		return fmt.Errorf("transition %s -> %s: role %q is not a stakeholder", t.From, t.To, t.Role)
	}
	notify, err := p.expand(t.Notify)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", t.From, t.To, err)
	}
	t.Notify = notify
	t.subject, t.message, err = parseTemplates(string(t.To), t.Subject, t.Message)
	return err
}

// expand resolves "all" and drops duplicates, keeping first-seen order.
func (p *Policy) expand(roles []models.Role) ([]models.Role, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("notify list is empty")
	}
	out := make([]models.Role, 0, len(roles))
	add := func(r models.Role) {
		if !models.ContainsRole(out, r) {
			out = append(out, r)
		}
	}
	for _, r := range roles {
		if r == allRecipients {
			for _, s := range p.Stakeholders {
				add(s)
			}
			continue
		}
		if !models.ContainsRole(p.Stakeholders, r) {
			return nil, fmt.Errorf("recipient %q is not a stakeholder", r)
		}
		add(r)
	}
	return out, nil
}

func parseTemplates(name, subject, message string) (*template.Template, *template.Template, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(message) == "" {
		return nil, nil, fmt.Errorf("%s: subject and message are required", name)
	}
	s, err := template.New(name + ".subject").Option("missingkey=error").Parse(subject)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: subject template: %w", name, err)
	}
	m, err := template.New(name + ".message").Option("missingkey=error").Parse(message)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: message template: %w", name, err)
	}
	// Unknown fields only surface on execution.
	if _, _, err := render(s, m, MessageData{}); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, m, nil
}

func render(subject, message *template.Template, data MessageData) (string, string, error) {
	var sb, mb bytes.Buffer
	if err := subject.Execute(&sb, data); err != nil {
		return "", "", err
	}
	if err := message.Execute(&mb, data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(mb.String()), nil
}

// Index returns the position of s in the forward sequence. Terminal steps sit
// after every sequence step.
func (p *Policy) Index(s models.Step) (int, bool) {
	if i, ok := p.order[s]; ok {
		return i, true
	}
	if s == p.Approval.Approved.To || s == p.Approval.Rejected.To {
		return len(p.Steps), true
	}
	return 0, false
}

// Knows reports whether s is a step this policy can process.
func (p *Policy) Knows(s models.Step) bool {
	_, ok := p.Index(s)
	return ok
}

// TransitionFrom returns the forward transition leaving s.
func (p *Policy) TransitionFrom(s models.Step) (*Transition, bool) {
	for i := range p.Transitions {
		if p.Transitions[i].From == s {
			return &p.Transitions[i], true
		}
	}
	return nil, false
}

// TransitionForForm returns the transition that consumes formType.
func (p *Policy) TransitionForForm(formType string) (*Transition, bool) {
	for i := range p.Transitions {
		if p.Transitions[i].FormType == formType {
			return &p.Transitions[i], true
		}
	}
	return nil, false
}

// Creation is the transition run when a case is created.
func (p *Policy) Creation() *Transition {
	return &p.Transitions[0]
}

// InitialStep is the step a new case starts in.
func (p *Policy) InitialStep() models.Step {
	return p.Steps[0]
}

// RequiredApprovers returns a copy of the approver set fixed at case creation.
func (p *Policy) RequiredApprovers() []models.Role {
	return append([]models.Role(nil), p.Approval.Required...)
}

// RenderReminder renders the pending approval reminder.
func (p *Policy) RenderReminder(data MessageData) (string, string, error) {
	return render(p.Approval.Reminder.subject, p.Approval.Reminder.message, data)
}

func (t *Transition) render(data MessageData) (string, string, error) {
	return render(t.subject, t.message, data)
}

func (b *Branch) render(data MessageData) (string, string, error) {
	return render(b.subject, b.message, data)
}
