package rubric

// Built-in Case Entry rubric, used whenever the label or synonym documents
// are missing or unreadable.

func defaultLabels() []Label {
	return []Label{
		{ID: "1", Text: "What's the location of the emergency?"},
		{ID: "1a", Text: "Address/location confirmed/verified?"},
		{ID: "1b", Text: "911 CAD Dump used to build the call?"},
		{ID: "2", Text: "What's the phone number you're calling from?"},
		{ID: "2a", Text: "Phone number documented in the entry?"},
	}
}

func defaultRules() Rules {
	return Rules{
		Synonyms: map[string][]string{
			"1": {"location of the emergency", "address of the emergency", "what is the address"},
			"2": {"phone number", "callback number", "what is your number", "whats your number"},
		},
		Evidence: map[string]string{
			"1a": string(AddressVerification),
			// CAD dump usage is not visible in audio; kept at Not Asked.
			"1b": string(NotDerivable),
			"2a": string(DigitRun),
		},
		Vocabulary: defaultVocabulary(),
	}
}

func defaultVocabulary() Vocabulary {
	return Vocabulary{
		CityState:   []string{"norman", "oklahoma", "ok"},
		StreetHints: []string{"street", "st", "avenue", "ave", "road", "rd", "drive", "dr", "lane", "ln", "highway", "hwy"},
	}
}

// Default returns the built-in Case Entry rubric.
func Default() *Rubric {
	r, _ := Config{Labels: defaultLabels(), Rules: defaultRules()}.Build()
	return r
}
