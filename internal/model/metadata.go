package model

// TrustLevel is a provenance tag on a metadata field. It is not a probability.
type TrustLevel string

const (
	TrustVerified TrustLevel = "verified" // Backed by documentation or a data contract
	TrustDeclared TrustLevel = "declared" // User-asserted, not independently verified
	TrustMissing  TrustLevel = "missing"  // Unknown or not provided
)

// ParseTrustLevel validates a raw trust tag.
func ParseTrustLevel(s string) (TrustLevel, bool) {
	switch TrustLevel(s) {
	case TrustVerified, TrustDeclared, TrustMissing:
		return TrustLevel(s), true
	}
	return "", false
}

// Rank orders trust levels: verified > declared > missing.
func (t TrustLevel) Rank() int {
	switch t {
	case TrustVerified:
		return 2
	case TrustDeclared:
		return 1
	}
	return 0
}

// Below reports whether t is strictly less trusted than other.
func (t TrustLevel) Below(other TrustLevel) bool {
	return t.Rank() < other.Rank()
}

// ProblemType values recognised by target-aware detectors.
const (
	ProblemClassification = "classification"
	ProblemRegression     = "regression"
)

// MetadataField is a single declared value with an explicit trust boundary.
// A nil Value means nothing was declared.
type MetadataField struct {
	Value *string    `json:"value"`
	Trust TrustLevel `json:"trust"`
}

// MissingField returns a field with no value and MISSING trust.
func MissingField() MetadataField {
	return MetadataField{Trust: TrustMissing}
}

// String returns the declared value or "" when absent.
func (f MetadataField) String() string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// Declared reports whether the field carries a value.
func (f MetadataField) Declared() bool {
	return f.Value != nil
}

// DatasetMetadata describes the intended semantics of a dataset. All fields
// are optional and absence is surfaced as uncertainty, never guessed.
type DatasetMetadata struct {
	TargetColumn     MetadataField `json:"target_column"`
	TimeColumn       MetadataField `json:"time_column"`
	ProblemType      MetadataField `json:"problem_type"`
	LabelDescription MetadataField `json:"label_description"`
	DataSource       MetadataField `json:"data_source"`
}
