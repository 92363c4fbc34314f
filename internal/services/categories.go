package services

// DefaultCategories returns the built-in category directory. Category ids are
// assigned by the transaction service; this mirror exists only to render
// readable names on budget responses.
func DefaultCategories() CategoryDirectory {
	return CategoryDirectory{
		1:  "Groceries",
		2:  "Dining",
		3:  "Transport",
		4:  "Housing",
		5:  "Utilities",
		6:  "Healthcare",
		7:  "Entertainment",
		8:  "Shopping",
		9:  "Travel",
		10: "Education",
	}
}
