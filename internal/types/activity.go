package types

// ActivityTotals aggregates the append-only activity ledger, either for
// one tool session or for the lifetime of the store.
type ActivityTotals struct {
	APICalls          int
	APIFailures       int
	ContactViews      int
	ToolExecutions    int
	GeneratedContacts int
	ModifiedContacts  int
}
