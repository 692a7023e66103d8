package txn

import "strings"

// Category is the class of a statement as far as transaction handling is concerned.
type Category int

const (
	// Other covers everything that is neither transaction control nor DML:
	// SELECT, CREATE, DROP, ALTER, PRAGMA, VACUUM, ANALYZE, ATTACH, unknown verbs.
	Other Category = iota
	// TransactionControl covers BEGIN, COMMIT, END, ROLLBACK, SAVEPOINT and RELEASE.
	TransactionControl
	// DataModifyingDML covers INSERT, UPDATE, DELETE and REPLACE.
	DataModifyingDML
)

// String returns the string representation of the Category.
func (c Category) String() string {
	switch c {
	case TransactionControl:
		return "TransactionControl"
	case DataModifyingDML:
		return "DataModifyingDML"
	default:
		return "Other"
	}
}

var verbCategories = map[string]Category{
	"BEGIN":     TransactionControl,
	"COMMIT":    TransactionControl,
	"END":       TransactionControl,
	"ROLLBACK":  TransactionControl,
	"SAVEPOINT": TransactionControl,
	"RELEASE":   TransactionControl,
	"INSERT":    DataModifyingDML,
	"UPDATE":    DataModifyingDML,
	"DELETE":    DataModifyingDML,
	"REPLACE":   DataModifyingDML,
}

// Classify maps a statement to its Category by looking at the leading keyword only.
// It does not validate syntax: anything it does not recognize is Other.
func Classify(query string) Category {
	return verbCategories[Keyword(query)]
}

// Keyword returns the upper-cased leading keyword of a statement, skipping
// whitespace, "--" line comments and "/* */" block comments.
// It returns "" when the statement does not start with a word.
func Keyword(query string) string {
	rest := skipTrivia(query)

	end := 0
	for end < len(rest) && isWordByte(rest[end]) {
		end++
	}
	return strings.ToUpper(rest[:end])
}

func skipTrivia(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n\f\v")
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s[2:], "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+4:]
		default:
			return s
		}
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// returnsRows reports whether a statement may produce a result set and must
// therefore be run as a query. DML only does so with a RETURNING clause.
func returnsRows(query string) bool {
	switch Classify(query) {
	case TransactionControl:
		return false
	case DataModifyingDML:
		return hasKeyword(query, "RETURNING")
	default:
		return true
	}
}

// hasKeyword reports whether word appears as a bare keyword in query.
// String literals, quoted identifiers and comments are skipped.
func hasKeyword(query, word string) bool {
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				return false
			}
			i += end + 2
		case c == '[':
			end := strings.IndexByte(query[i+1:], ']')
			if end < 0 {
				return false
			}
			i += end + 2
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return false
			}
			i += end + 1
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 4
		case isWordByte(c):
			start := i
			for i < len(query) && isWordByte(query[i]) {
				i++
			}
			if strings.EqualFold(query[start:i], word) {
				return true
			}
		default:
			i++
		}
	}
	return false
}
