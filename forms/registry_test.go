package forms

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaseexit/models"
)

func newTestRegistry(t *testing.T, sources ...Source) *Registry {
	t.Helper()
	if len(sources) == 0 {
		sources = []Source{EmbeddedSource{}}
	}
	r := NewRegistry(zerolog.Nop(), sources...)
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

type staticSource struct {
	name      string
	templates []models.FormTemplate
	err       error
	calls     int32
	delay     time.Duration
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Load(ctx context.Context) ([]models.FormTemplate, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.templates, s.err
}

func TestEmbeddedTemplatesCoverEveryWorkflowForm(t *testing.T) {
	r := newTestRegistry(t)

	want := map[string]models.Role{
		"initial_submission": models.RoleLeaseExitManagement,
		"advisory_review":    models.RoleAdvisory,
		"ifm_review":         models.RoleIFM,
		"mac_review":         models.RoleMAC,
		"pjm_review":         models.RolePJM,
	}
	templates := r.Templates()
	require.Len(t, templates, len(want))
	for _, tmpl := range templates {
		role, ok := want[tmpl.FormType]
		require.True(t, ok, tmpl.FormType)
		assert.Equal(t, role, tmpl.Role)
	}
}

func TestGetSchema(t *testing.T) {
	r := newTestRegistry(t)

	fields, err := r.GetSchema("mac_review")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "scope_details", fields[0].Name)
	assert.Equal(t, models.FieldNumber, fields[1].Type)

	_, err = r.GetSchema("legal_review")
	assert.True(t, errors.Is(err, ErrUnknownFormType))
}

func TestValidate_UnknownFormTypeFailsHard(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Validate("nope", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFormType))
}

func TestValidate_InitialSubmission(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Validate("initial_submission", map[string]interface{}{
		"lease_id":         "L-100",
		"property_address": "1 Main St",
		"exit_date":        "2099-12-31",
		"reason_for_exit":  "Consolidation",
		"exit_type":        "End of Term",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)

	res, err = r.Validate("initial_submission", map[string]interface{}{
		"lease_id":         "",
		"property_address": "1 Main St",
		"exit_date":        "31/12/2026",
		"reason_for_exit":  "Consolidation",
		"exit_type":        "Whenever",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	fields := map[string]bool{}
	for _, fe := range res.Errors {
		fields[fe.Field] = true
	}
	assert.Equal(t, map[string]bool{"lease_id": true, "exit_date": true, "exit_type": true}, fields)
}

func TestValidate_TypedFields(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Validate("pjm_review", map[string]interface{}{
		"scope_details": "Strip out",
		"project_plan":  "Phase 1",
		"cost_estimate": "a lot",
		"timeline":      "2027-01-15",
		"contact_email": "not-an-email",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "cost_estimate", res.Errors[0].Field)
	assert.Equal(t, "contact_email", res.Errors[1].Field)

	res, err = r.Validate("pjm_review", map[string]interface{}{
		"scope_details": "Strip out",
		"project_plan":  "Phase 1",
		"cost_estimate": 125000.5,
		"timeline":      "2027-01-15T09:00:00Z",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidate_FileListAndWarnings(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Validate("advisory_review", map[string]interface{}{
		"lease_requirements": "Make good clause",
		"cost_information":   "Dilapidations",
		"documents":          []interface{}{"lease.pdf", "survey.pdf"},
		"reviewer":           "someone",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "reviewer", res.Warnings[0].Field)

	res, err = r.Validate("advisory_review", map[string]interface{}{
		"lease_requirements": "Make good clause",
		"cost_information":   "Dilapidations",
		"documents":          []interface{}{},
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "documents", res.Errors[0].Field)
}

func TestRefresh_LaterSourcesOverride(t *testing.T) {
	override := &staticSource{name: "override", templates: []models.FormTemplate{{
		FormType: "mac_review",
		Role:     models.RoleMAC,
		Fields:   []models.FieldSpec{{Name: "summary", Type: models.FieldText, Required: true}},
	}}}
	r := newTestRegistry(t, EmbeddedSource{}, override)

	fields, err := r.GetSchema("mac_review")
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "summary", fields[0].Name)

	// untouched templates still come from the embedded set
	_, err = r.GetSchema("pjm_review")
	assert.NoError(t, err)
}

func TestRefresh_SkipsFailingAndInvalidSources(t *testing.T) {
	broken := &staticSource{name: "broken", err: errors.New("connection refused")}
	invalid := &staticSource{name: "invalid", templates: []models.FormTemplate{
		{FormType: "ifm_review", Role: "janitor", Fields: []models.FieldSpec{{Name: "x", Type: models.FieldText}}},
		{FormType: "bad_select", Role: models.RoleIFM, Fields: []models.FieldSpec{{Name: "x", Type: models.FieldSelect}}},
	}}
	r := newTestRegistry(t, EmbeddedSource{}, broken, invalid)

	fields, err := r.GetSchema("ifm_review")
	require.NoError(t, err)
	assert.Len(t, fields, 3)
	_, err = r.GetSchema("bad_select")
	assert.Error(t, err)
}

func TestRefresh_KeepsSnapshotWhenNothingLoads(t *testing.T) {
	src := &staticSource{name: "flaky", templates: []models.FormTemplate{{
		FormType: "mac_review",
		Role:     models.RoleMAC,
		Fields:   []models.FieldSpec{{Name: "summary", Type: models.FieldText}},
	}}}
	r := newTestRegistry(t, src)

	src.templates = nil
	src.err = errors.New("down")
	assert.Error(t, r.Refresh(context.Background()))

	_, err := r.GetSchema("mac_review")
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentCallsShareOneLoad(t *testing.T) {
	src := &staticSource{
		name:  "slow",
		delay: 50 * time.Millisecond,
		templates: []models.FormTemplate{{
			FormType: "mac_review",
			Role:     models.RoleMAC,
			Fields:   []models.FieldSpec{{Name: "summary", Type: models.FieldText}},
		}},
	}
	r := NewRegistry(zerolog.Nop(), src)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, r.Refresh(context.Background()))
		}()
	}
	close(start)
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&src.calls), int32(8))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	doc := []byte("form_type: legal_review\nrole: legal\nfields:\n  - name: opinion\n    type: textarea\n    required: true\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legal_review.yaml"), doc, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	list, err := DirSource{Dir: dir}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "legal_review", list[0].FormType)
	assert.Equal(t, models.RoleLegal, list[0].Role)

	list, err = DirSource{Dir: filepath.Join(dir, "missing")}.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, EmbeddedSource{}, DirSource{Dir: dir})

	w := NewWatcher(dir, r, zerolog.Nop())
	w.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher a moment to register the directory
	time.Sleep(50 * time.Millisecond)

	doc := []byte("form_type: legal_review\nrole: legal\nfields:\n  - name: opinion\n    type: textarea\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legal_review.yaml"), doc, 0o644))

	assert.Eventually(t, func() bool {
		_, err := r.GetSchema("legal_review")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
