package entity

// RiskFlag marks text left unredacted because detection failed on it or an
// identifier pattern survived substitution. Offsets are byte offsets into the
// source block text for detector failures and into the anonymized text for
// residual matches. The surface form is not kept.
type RiskFlag struct {
	BlockID  string `json:"block_id"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Detector string `json:"detector"`
	Reason   string `json:"reason"`
}

// AnonymizedText is a CaseDocument with every detected entity replaced by its
// case-scoped placeholder.
type AnonymizedText struct {
	CaseID string     `json:"case_id"`
	Blocks []Block    `json:"blocks"`
	Risks  []RiskFlag `json:"risks,omitempty"`
}

// Markdown renders the anonymized blocks, one per line.
func (a AnonymizedText) Markdown() string {
	return RenderBlocks(a.Blocks)
}
