package txn

// NeedsTransactionFunc decides whether an Other statement may run inside the
// open transaction. Returning false makes the connection commit first.
type NeedsTransactionFunc func(category Category, query string) bool

// DefaultNeedsTransaction commits before every Other statement.
func DefaultNeedsTransaction(Category, string) bool {
	return false
}

// TransactionalDDL keeps every statement inside the open transaction,
// so DDL can be rolled back together with the data changes around it.
func TransactionalDDL(Category, string) bool {
	return true
}

// ReadsInTransaction keeps queries inside the open transaction and commits
// before anything else, such as DDL or PRAGMA.
func ReadsInTransaction(_ Category, query string) bool {
	switch Keyword(query) {
	case "SELECT", "WITH", "VALUES", "EXPLAIN":
		return true
	}
	return false
}
