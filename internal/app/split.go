package app

import "strings"

type scanState int

const (
	scanNormal scanState = iota
	scanQuote            // '...', "...", `...`
	scanBracket          // [...]
	scanLineComment
	scanBlockComment
)

// SplitStatements cuts input into complete ';'-terminated statements and the
// unterminated rest. Semicolons inside literals, quoted identifiers and comments
// do not end a statement. Inside CREATE TRIGGER only "END;" does.
func SplitStatements(input string) (stmts []string, rest string) {
	var (
		state   scanState
		quote   byte
		start   int
		words   []string
		wordBuf strings.Builder
	)

	flushWord := func() {
		if wordBuf.Len() == 0 {
			return
		}
		words = append(words, strings.ToUpper(wordBuf.String()))
		wordBuf.Reset()
	}

	for i := 0; i < len(input); i++ {
		c := input[i]
		switch state {
		case scanQuote:
			if c == quote {
				state = scanNormal
			}
			continue
		case scanBracket:
			if c == ']' {
				state = scanNormal
			}
			continue
		case scanLineComment:
			if c == '\n' {
				state = scanNormal
			}
			continue
		case scanBlockComment:
			if c == '*' && i+1 < len(input) && input[i+1] == '/' {
				state = scanNormal
				i++
			}
			continue
		}

		if isWordChar(c) {
			wordBuf.WriteByte(c)
			continue
		}
		flushWord()

		switch {
		case c == '\'' || c == '"' || c == '`':
			state, quote = scanQuote, c
		case c == '[':
			state = scanBracket
		case c == '-' && i+1 < len(input) && input[i+1] == '-':
			state = scanLineComment
			i++
		case c == '/' && i+1 < len(input) && input[i+1] == '*':
			state = scanBlockComment
			i++
		case c == ';':
			if isTrigger(words) && words[len(words)-1] != "END" {
				continue
			}
			if stmt := strings.TrimSpace(input[start:i]); stmt != "" {
				stmts = append(stmts, stmt)
			}
			start = i + 1
			words = words[:0]
		}
	}

	return stmts, strings.TrimLeft(input[start:], " \t\r\n;")
}

func isTrigger(words []string) bool {
	if len(words) < 2 || words[0] != "CREATE" {
		return false
	}
	if words[1] == "TEMP" || words[1] == "TEMPORARY" {
		return len(words) > 2 && words[2] == "TRIGGER"
	}
	return words[1] == "TRIGGER"
}

func isWordChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
