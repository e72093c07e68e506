package wire

// Progress is the body of a progress message
type Progress struct {
	Percentage int `json:"percentage"`
}

// Problem is one diagnostic within a file
type Problem struct {
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// FileProblems groups the diagnostics of one file
type FileProblems struct {
	File     string    `json:"file"`
	Problems []Problem `json:"problems"`
}

// LoadModelResponse answers load_model
type LoadModelResponse struct {
	Problems      []FileProblems `json:"problems"`
	TotalProblems int            `json:"total_problems"`
}

// ContextRequest is the body of content_complete and link_targets requests.
// Column is 1-based and refers to the last context line.
type ContextRequest struct {
	Column  int      `json:"column"`
	Context []string `json:"context"`
}

// Option is one completion option
type Option struct {
	Insert  string `json:"insert"`
	Display string `json:"display"`
}

// CompleteResponse answers content_complete
type CompleteResponse struct {
	Options []Option `json:"options"`
}

// Target is a location in the model
type Target struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Display string `json:"display"`
}

// LinkTargetsResponse answers link_targets. Columns are 1-based and
// inclusive.
type LinkTargetsResponse struct {
	BeginColumn int      `json:"begin_column"`
	EndColumn   int      `json:"end_column"`
	Targets     []Target `json:"targets"`
}

// FindElementsRequest is the body of find_elements
type FindElementsRequest struct {
	SearchPattern string `json:"search_pattern"`
}

// FindElementsResponse answers find_elements
type FindElementsResponse struct {
	Elements      []Target `json:"elements"`
	TotalElements int      `json:"total_elements"`
}
