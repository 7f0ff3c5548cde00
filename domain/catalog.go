package domain

// Molecule is the active substance a medication can reference.
type Molecule struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// TherapeuticCategory is a node in the category tree. Level 1 is a root
// category.
type TherapeuticCategory struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	ParentID *int64 `db:"parent_id" json:"parent_id,omitempty"`
	Icon     string `db:"icon" json:"icon"`
	Level    int64  `db:"level" json:"level"`
}

// Location is a physical storage place for batches.
type Location struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
