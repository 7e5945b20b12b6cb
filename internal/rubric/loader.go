package rubric

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"call-grader-go/internal/logger"
	"call-grader-go/internal/transcript"
)

// Label is one question id and its scripted text.
type Label struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Rules are the per-item matching rules read from the synonym document.
type Rules struct {
	// Synonyms maps an item id to its loose-match phrases.
	Synonyms map[string][]string
	// Evidence maps an item id to a heuristic name; nil means the built-in bindings.
	Evidence   map[string]string
	Vocabulary Vocabulary
	Roles      transcript.Roles
}

// Config is a label document paired with a rule document.
type Config struct {
	Labels []Label
	Rules  Rules
}

// Options point at the documents to load. Either path may be empty.
type Options struct {
	LabelsPath string
	RulesPath  string
}

// Load reads both documents and builds a rubric. Missing or malformed
// documents are replaced by the built-in defaults and never fail the load;
// the returned error only reports heuristic names outside the catalog, and
// the rubric is usable even then.
func Load(opts Options) (*Rubric, error) {
	return LoadConfig(opts).Build()
}

// LoadConfig reads both documents, substituting defaults per document.
func LoadConfig(opts Options) Config {
	log := logger.New().WithField("component", "rubric.loader")
	cfg := Config{Labels: defaultLabels(), Rules: defaultRules()}

	if opts.LabelsPath != "" {
		labels, err := readFile(opts.LabelsPath, DecodeLabels)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.WithField("path", opts.LabelsPath).Debug("label document not found, using defaults")
		case err != nil:
			log.WithError(err).WithField("path", opts.LabelsPath).Warn("label document unreadable, using defaults")
		default:
			cfg.Labels = labels
		}
	}
	if opts.RulesPath != "" {
		rules, err := readFile(opts.RulesPath, DecodeRules)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.WithField("path", opts.RulesPath).Debug("synonym document not found, using defaults")
		case err != nil:
			log.WithError(err).WithField("path", opts.RulesPath).Warn("synonym document unreadable, using defaults")
		default:
			cfg.Rules = rules
		}
	}
	return cfg
}

func readFile[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	v, err := decode(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// DecodeLabels reads an {id: text} mapping in YAML or JSON, keeping the
// document order.
func DecodeLabels(r io.Reader) ([]Label, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("rubric: decode labels: %w", err)
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("rubric: labels must be a mapping of id to text")
	}
	labels := make([]Label, 0, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		k, v := doc.Content[i], doc.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("rubric: label %q is not text", k.Value)
		}
		id := strings.TrimSpace(k.Value)
		if id == "" {
			continue
		}
		labels = append(labels, Label{ID: id, Text: v.Value})
	}
	if len(labels) == 0 {
		return nil, errors.New("rubric: label document is empty")
	}
	return labels, nil
}

// DecodeRules reads the synonym document:
//
//	q1: ["location of the emergency", ...]   # loose phrases for item 1
//	city_state: [norman, oklahoma, ok]
//	street_hints: [street, st, avenue, ...]
//	evidence: {1a: address_verification, 1b: not_derivable, 2a: digit_run}
//	roles: {asker: [SPEAKER_01], responder: [SPEAKER_00]}
//
// Absent vocabulary or evidence keys keep the built-in values.
func DecodeRules(r io.Reader) (Rules, error) {
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return Rules{}, fmt.Errorf("rubric: decode rules: %w", err)
	}
	def := defaultRules()
	rules := Rules{
		Synonyms:   map[string][]string{},
		Evidence:   def.Evidence,
		Vocabulary: def.Vocabulary,
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		node := doc[key]
		switch key {
		case "city_state":
			errs = append(errs, decodeList(&node, key, &rules.Vocabulary.CityState))
		case "street_hints":
			errs = append(errs, decodeList(&node, key, &rules.Vocabulary.StreetHints))
		case "evidence":
			m := map[string]string{}
			if err := node.Decode(&m); err != nil {
				errs = append(errs, fmt.Errorf("rubric: evidence: %w", err))
				continue
			}
			rules.Evidence = m
		case "roles":
			if err := node.Decode(&rules.Roles); err != nil {
				errs = append(errs, fmt.Errorf("rubric: roles: %w", err))
			}
		default:
			id, ok := strings.CutPrefix(key, "q")
			if !ok || id == "" {
				continue
			}
			var phrases []string
			if err := decodeList(&node, key, &phrases); err != nil {
				errs = append(errs, err)
				continue
			}
			rules.Synonyms[id] = phrases
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func decodeList(node *yaml.Node, key string, dst *[]string) error {
	var v []string
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("rubric: %s: %w", key, err)
	}
	if v == nil {
		v = []string{}
	}
	*dst = v
	return nil
}

// WithLabels returns a copy of c that grades the given labels.
func (c Config) WithLabels(labels []Label) Config {
	c.Labels = append([]Label(nil), labels...)
	return c
}

// Build turns the configuration into a rubric. Unknown heuristic names are
// reported in the returned error; the affected items fall back to phrase
// matching and the rubric is still returned.
func (c Config) Build() (*Rubric, error) {
	rules := c.Rules
	if rules.Evidence == nil {
		rules.Evidence = defaultRules().Evidence
	}
	if rules.Vocabulary.CityState == nil {
		rules.Vocabulary.CityState = defaultVocabulary().CityState
	}
	if rules.Vocabulary.StreetHints == nil {
		rules.Vocabulary.StreetHints = defaultVocabulary().StreetHints
	}

	ids := make([]string, 0, len(rules.Evidence))
	for id := range rules.Evidence {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var errs []error
	heuristics := make(map[string]Heuristic, len(ids))
	for _, id := range ids {
		h, err := ParseHeuristic(rules.Evidence[id])
		if err != nil {
			errs = append(errs, fmt.Errorf("item %q: %w", id, err))
			continue
		}
		heuristics[id] = h
	}

	// Later labels for the same id replace the text but keep the position.
	pos := make(map[string]int, len(c.Labels))
	items := make([]Item, 0, len(c.Labels))
	for _, l := range c.Labels {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			continue
		}
		if i, ok := pos[id]; ok {
			items[i].CanonicalText = l.Text
			continue
		}
		pos[id] = len(items)
		items = append(items, Item{
			ID:            id,
			CanonicalText: l.Text,
			Synonyms:      rules.Synonyms[id],
			Evidence:      heuristics[id],
		})
	}

	r, err := New(items, rules.Vocabulary, rules.Roles)
	if err != nil {
		return nil, err
	}
	return r, errors.Join(errs...)
}
