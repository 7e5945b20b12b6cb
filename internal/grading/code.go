package grading

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a grade outcome. The set is closed; see Codes.
type Code string

const (
	CodeAskedCorrectly   Code = "1"
	CodeNotAsked         Code = "2"
	CodeAskedIncorrectly Code = "3"
	CodeNotAsScripted    Code = "4"
	// Codes below are only ever supplied by a reviewer, never inferred.
	CodeNotApplicable     Code = "5"
	CodeObvious           Code = "6"
	CodeRecordedCorrectly Code = "RC"
)

var statuses = map[Code]string{
	CodeAskedCorrectly:    "Asked Correctly",
	CodeNotAsked:          "Not Asked",
	CodeAskedIncorrectly:  "Asked Incorrectly",
	CodeNotAsScripted:     "Not As Scripted",
	CodeNotApplicable:     "N/A",
	CodeObvious:           "Obvious",
	CodeRecordedCorrectly: "Recorded Correctly",
}

// ErrUnknownCode is returned by ParseCode for values outside the table.
var ErrUnknownCode = errors.New("grading: unknown grade code")

// Codes lists every code in table order.
func Codes() []Code {
	return []Code{
		CodeAskedCorrectly, CodeNotAsked, CodeAskedIncorrectly, CodeNotAsScripted,
		CodeNotApplicable, CodeObvious, CodeRecordedCorrectly,
	}
}

// ParseCode accepts a code with surrounding space and any letter case.
func ParseCode(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCode, s)
	}
	return c, nil
}

func (c Code) Valid() bool {
	_, ok := statuses[c]
	return ok
}

// Status is the human readable meaning, "Unknown" outside the table.
func (c Code) Status() string {
	if s, ok := statuses[c]; ok {
		return s
	}
	return "Unknown"
}

// Excluded reports whether the code is left out of the score denominator.
func (c Code) Excluded() bool {
	return c == CodeNotApplicable || c == CodeRecordedCorrectly
}

func (c Code) String() string { return string(c) }
