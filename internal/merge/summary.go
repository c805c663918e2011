package merge

import "sort"

// Rejection reasons. A rejection is an outcome, never a fatal error.
const (
	ReasonUnsupported  = "unsupported"
	ReasonEmpty        = "empty"
	ReasonMalformed    = "malformed"
	ReasonFailedStatus = "failed-status"
	ReasonErrorFlag    = "error-flag"
	ReasonMockFlag     = "mock-flag"
	ReasonNotObject    = "not-object"
	ReasonBadName      = "bad-name"
	ReasonDepth        = "unexpected-depth"
)

// Rejection records one file that will not be merged.
type Rejection struct {
	Package string `json:"package"`
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// Merged records one file copied (or confirmed identical) into the archive.
type Merged struct {
	Package     string `json:"package"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Unchanged   bool   `json:"unchanged,omitempty"`
}

// Pending records a file whose copy failed; its package stays staged.
type Pending struct {
	Package string `json:"package"`
	Path    string `json:"path"`
	Error   string `json:"error"`
}

// Summary is the outcome of one merge pass.
type Summary struct {
	Packages   int         `json:"packages"`
	Merged     []Merged    `json:"merged"`
	Rejected   []Rejection `json:"rejected"`
	Pending    []Pending   `json:"pending"`
	Ignored    int         `json:"ignored"`
	Superseded int         `json:"superseded"`
	Cleaned    []string    `json:"cleaned"`
	Retained   []string    `json:"retained"`
}

// RejectionsByReason counts rejections per reason.
func (s *Summary) RejectionsByReason() map[string]int {
	out := make(map[string]int)
	for _, r := range s.Rejected {
		out[r.Reason]++
	}
	return out
}

// Reasons returns the distinct rejection reasons, sorted.
func (s *Summary) Reasons() []string {
	counts := s.RejectionsByReason()
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}
