package rubric

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-grader-go/internal/transcript"
)

func ids(r *Rubric) []string {
	var out []string
	for _, it := range r.Items() {
		out = append(out, it.ID)
	}
	return out
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"1", "1a", "1b", "2", "2a"}, ids(r))

	q1, ok := r.Item("1")
	require.True(t, ok)
	assert.Equal(t, "What's the location of the emergency?", q1.CanonicalText)
	assert.Contains(t, q1.Synonyms, "address of the emergency")
	assert.Equal(t, HeuristicNone, q1.Evidence)

	ev := map[string]Heuristic{}
	for _, it := range r.Items() {
		ev[it.ID] = it.Evidence
	}
	assert.Equal(t, AddressVerification, ev["1a"])
	assert.Equal(t, NotDerivable, ev["1b"])
	assert.Equal(t, DigitRun, ev["2a"])
	assert.Equal(t, transcript.DefaultRoles(), r.Roles())
	assert.Contains(t, r.Vocabulary().StreetHints, "avenue")
}

func TestParseHeuristic(t *testing.T) {
	h, err := ParseHeuristic(" Digit-Run ")
	require.NoError(t, err)
	assert.Equal(t, DigitRun, h)

	h, err = ParseHeuristic("")
	require.NoError(t, err)
	assert.Equal(t, HeuristicNone, h)

	_, err = ParseHeuristic("digit_rnu")
	assert.ErrorIs(t, err, ErrUnknownHeuristic)
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]Item{{ID: "1"}, {ID: " 1 "}}, Vocabulary{}, transcript.Roles{})
	require.Error(t, err)
	_, err = New([]Item{{ID: ""}}, Vocabulary{}, transcript.Roles{})
	require.Error(t, err)
}

func TestItemsAreCopies(t *testing.T) {
	r := Default()
	items := r.Items()
	items[0].Synonyms[0] = "mutated"
	q1, _ := r.Item("1")
	assert.NotEqual(t, "mutated", q1.Synonyms[0])
}

func TestDecodeLabelsKeepsOrder(t *testing.T) {
	labels, err := DecodeLabels(strings.NewReader(`{"2": "Phone?", "1": "Where?", "10": "Name?"}`))
	require.NoError(t, err)
	assert.Equal(t, []Label{{"2", "Phone?"}, {"1", "Where?"}, {"10", "Name?"}}, labels)

	labels, err = DecodeLabels(strings.NewReader("1: \"What’s the address?\"\n1a: Verified?\n"))
	require.NoError(t, err)
	assert.Equal(t, "What’s the address?", labels[0].Text)

	_, err = DecodeLabels(strings.NewReader(`["a", "b"]`))
	require.Error(t, err)
	_, err = DecodeLabels(strings.NewReader(`{}`))
	require.Error(t, err)
}

func TestDecodeRules(t *testing.T) {
	rules, err := DecodeRules(strings.NewReader(`{
		"q1": ["where are you"],
		"q3": ["your name"],
		"street_hints": ["boulevard"],
		"evidence": {"3a": "spelled_token"},
		"roles": {"asker": ["TAKER"], "responder": ["CALLER"]},
		"unrelated": 5
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"where are you"}, rules.Synonyms["1"])
	assert.Equal(t, []string{"your name"}, rules.Synonyms["3"])
	assert.Equal(t, []string{"boulevard"}, rules.Vocabulary.StreetHints)
	assert.Equal(t, defaultVocabulary().CityState, rules.Vocabulary.CityState)
	assert.Equal(t, map[string]string{"3a": "spelled_token"}, rules.Evidence)
	assert.Equal(t, []transcript.SpeakerID{"TAKER"}, rules.Roles.Asker)

	_, err = DecodeRules(strings.NewReader(`{"q1": {"not": "a list"}}`))
	require.Error(t, err)
}

func TestDecodeRulesWithoutEvidenceKeepsBuiltins(t *testing.T) {
	rules, err := DecodeRules(strings.NewReader(`{"q1": ["address"], "q2": ["number"]}`))
	require.NoError(t, err)
	r, err := Config{Labels: defaultLabels(), Rules: rules}.Build()
	require.NoError(t, err)
	it, _ := r.Item("2a")
	assert.Equal(t, DigitRun, it.Evidence)
}

func TestLoadFallsBackPerDocument(t *testing.T) {
	labels := writeFile(t, "rubric.json", `{"1": "Where is the emergency?", "2": "Callback number?"}`)
	broken := writeFile(t, "synonyms.json", `{"q1": [`)

	r, err := Load(Options{LabelsPath: labels, RulesPath: broken})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(r))
	q1, _ := r.Item("1")
	assert.Equal(t, "Where is the emergency?", q1.CanonicalText)
	// synonyms came from the defaults since the rule document was unreadable
	assert.Contains(t, q1.Synonyms, "location of the emergency")
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(Options{
		LabelsPath: filepath.Join(dir, "nope.json"),
		RulesPath:  filepath.Join(dir, "nope.yaml"),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(Default()), ids(r))

	r, err = Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, r.Len())
}

func TestLoadReportsUnknownHeuristic(t *testing.T) {
	rules := writeFile(t, "synonyms.yaml", "evidence:\n  1a: spelled_tokne\n  2a: digit_run\n")
	r, err := Load(Options{RulesPath: rules})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownHeuristic)
	assert.Contains(t, err.Error(), `"1a"`)

	require.NotNil(t, r)
	it, _ := r.Item("1a")
	assert.Equal(t, HeuristicNone, it.Evidence)
	it, _ = r.Item("2a")
	assert.Equal(t, DigitRun, it.Evidence)
}

func TestBuildDuplicateLabelsKeepFirstPosition(t *testing.T) {
	cfg := Config{Rules: defaultRules()}.WithLabels([]Label{
		{ID: "1", Text: "old"}, {ID: "2", Text: "phone"}, {ID: "1", Text: "new"},
	})
	r, err := cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(r))
	it, _ := r.Item("1")
	assert.Equal(t, "new", it.CanonicalText)
}

func TestWithRoles(t *testing.T) {
	roles := transcript.Roles{
		Asker:     []transcript.SpeakerID{"TAKER"},
		Responder: []transcript.SpeakerID{"CALLER"},
	}
	r := Default().WithRoles(roles)
	assert.Equal(t, roles, r.Roles())
	assert.Equal(t, transcript.DefaultRoles(), Default().Roles())
}

func TestWithRolesKeepsUnsetRole(t *testing.T) {
	r := Default().WithRoles(transcript.Roles{Asker: []transcript.SpeakerID{"TAKER"}})
	assert.Equal(t, []transcript.SpeakerID{"TAKER"}, r.Roles().Asker)
	assert.Equal(t, []transcript.SpeakerID{"SPEAKER_00"}, r.Roles().Responder)

	r = r.WithRoles(transcript.Roles{Responder: []transcript.SpeakerID{"CALLER"}})
	assert.Equal(t, []transcript.SpeakerID{"TAKER"}, r.Roles().Asker)
	assert.Equal(t, []transcript.SpeakerID{"CALLER"}, r.Roles().Responder)
}

func TestNewFillsMissingRoleFromDefaults(t *testing.T) {
	r, err := New([]Item{{ID: "1"}}, Vocabulary{}, transcript.Roles{Responder: []transcript.SpeakerID{"CALLER"}})
	require.NoError(t, err)
	assert.Equal(t, []transcript.SpeakerID{"SPEAKER_01"}, r.Roles().Asker)
	assert.Equal(t, []transcript.SpeakerID{"CALLER"}, r.Roles().Responder)

	// SPEAKER_00 is claimed as asker, so it is not inherited as responder.
	r, err = New([]Item{{ID: "1"}}, Vocabulary{}, transcript.Roles{Asker: []transcript.SpeakerID{"SPEAKER_00"}})
	require.NoError(t, err)
	assert.Empty(t, r.Roles().Responder)
}
