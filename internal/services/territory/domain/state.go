package domain

// CellStateKind tags the closed set of states a cell can be in.
type CellStateKind int

const (
	// CellUnclaimed means no guild controls the cell.
	CellUnclaimed CellStateKind = iota
	// CellControlled means a guild controls the cell and no challenge is
	// open.
	CellControlled
	// CellContested means an unresolved challenge is running against the
	// cell. Control is nil when the contest is over an unclaimed cell.
	CellContested
)

// CellState is the tagged view of a cell's current ownership. Control is set
// for Controlled and usually for Contested; Challenge is set only for
// Contested.
type CellState struct {
	Kind      CellStateKind
	Control   *Control
	Challenge *Challenge
}

// String returns the state kind name.
func (k CellStateKind) String() string {
	switch k {
	case CellControlled:
		return "controlled"
	case CellContested:
		return "contested"
	default:
		return "unclaimed"
	}
}
