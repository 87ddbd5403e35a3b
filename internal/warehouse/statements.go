package warehouse

import (
	"strings"
	"unicode"
)

// SplitStatements splits a script on semicolons that are outside string
// literals, quoted identifiers and comments. Blank statements are dropped.
// With backslashEscapes a backslash escapes the next character inside '...';
// otherwise only E'...' literals honour backslashes.
func SplitStatements(script string, backslashEscapes bool) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
		escapes    bool
		inLine     bool
		inBlock    bool
	)
	runes := []rune(script)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" && !onlyComments(s) {
			statements = append(statements, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case inLine:
			if c == '\n' {
				inLine = false
			}
		case inBlock:
			if c == '*' && next == '/' {
				inBlock = false
				current.WriteRune(c)
				current.WriteRune(next)
				i++
				continue
			}
		case quote != 0:
			if c == '\\' && escapes && next != 0 {
				current.WriteRune(c)
				current.WriteRune(next)
				i++
				continue
			}
			if c == quote {
				// doubled quote is an escaped quote
				if next == quote {
					current.WriteRune(c)
					current.WriteRune(next)
					i++
					continue
				}
				quote = 0
			}
		default:
			switch {
			case c == '\'':
				quote = c
				escapes = backslashEscapes || escapeStringPrefix(runes, i)
			case c == '"' || c == '`':
				quote = c
				escapes = false
			case c == '-' && next == '-':
				inLine = true
			case c == '/' && next == '*':
				inBlock = true
			case c == ';':
				flush()
				continue
			}
		}
		current.WriteRune(c)
	}
	flush()
	return statements
}

// escapeStringPrefix reports whether the quote at runes[i] opens an E'...'
// literal
func escapeStringPrefix(runes []rune, i int) bool {
	if i == 0 || (runes[i-1] != 'E' && runes[i-1] != 'e') {
		return false
	}
	if i == 1 {
		return true
	}
	prev := runes[i-2]
	return !unicode.IsLetter(prev) && !unicode.IsDigit(prev) && prev != '_'
}

// onlyComments reports whether s holds nothing but SQL comments
func onlyComments(s string) bool {
	for s != "" {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return true
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return true
			}
			s = s[idx+2:]
		case s == "":
			return true
		default:
			return false
		}
	}
	return true
}
