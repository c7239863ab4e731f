package core

// BranchCoverage is the execution count of one branch, attached to the
// line where its enclosing conditional begins.
type BranchCoverage struct {
	Label string `json:"label"`
	Line  int    `json:"line"`
	Count int64  `json:"count"`
}

// LineCoverage is the execution count of one executable line together
// with any branches whose enclosing conditional starts on that line.
type LineCoverage struct {
	Line     int              `json:"line"`
	Count    int64            `json:"count"`
	Branches []BranchCoverage `json:"branches,omitempty"`
}

// FileCoverage holds the per-line coverage records of one source file.
type FileCoverage struct {
	Path  string          `json:"path"`
	Lines []*LineCoverage `json:"lines"`
}
