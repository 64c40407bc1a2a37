package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrEmptyCourseCode = errors.New("course title yields an empty code")

// qualifiers denote the program level and contribute a single letter.
var qualifiers = map[string]bool{
	"diploma":      true,
	"certificate":  true,
	"bachelor":     true,
	"bachelors":    true,
	"master":       true,
	"masters":      true,
	"associate":    true,
	"doctorate":    true,
	"postgraduate": true,
	"foundation":   true,
}

var stopwords = map[string]bool{
	"in":   true,
	"of":   true,
	"and":  true,
	"the":  true,
	"for":  true,
	"to":   true,
	"a":    true,
	"an":   true,
	"on":   true,
	"with": true,
	"at":   true,
}

// CourseCode derives a short uppercase code from a course title:
//
//	"Diploma in VFX"                 -> DVFX
//	"Certificate in Web Development" -> CWD
//	"Bachelor of Computer Science"   -> BCS
func CourseCode(title string) (string, error) {
	words := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var code strings.Builder
	rest := words
	if len(words) > 0 && qualifiers[strings.ToLower(words[0])] {
		code.WriteString(initial(words[0]))
		rest = words[1:]
	}

	for _, w := range rest {
		if stopwords[strings.ToLower(w)] {
			continue
		}
		if isAcronym(w) {
			code.WriteString(w)
			continue
		}
		code.WriteString(initial(w))
	}

	if code.Len() == 0 {
		for _, w := range words {
			code.WriteString(initial(w))
		}
	}
	if code.Len() == 0 {
		return "", fmt.Errorf("%q: %w", title, ErrEmptyCourseCode)
	}
	return code.String(), nil
}

// FormatStudentNumber renders {code}-S-{year}-{seq:03d}.
func FormatStudentNumber(code string, year, seq int) string {
	return fmt.Sprintf("%s-S-%d-%03d", code, year, seq)
}

func initial(word string) string {
	for _, r := range word {
		return string(unicode.ToUpper(r))
	}
	return ""
}

// isAcronym reports words that are already upper case, like VFX or 3D.
func isAcronym(word string) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
