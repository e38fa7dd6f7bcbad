package diagnostics

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/table"
)

func mustTable(t *testing.T, header []string, rows [][]string) *table.Table {
	t.Helper()
	tbl, _, err := table.Build(header, rows)
	require.NoError(t, err)
	return tbl
}

func field(value string, trust model.TrustLevel) model.MetadataField {
	return model.MetadataField{Value: &value, Trust: trust}
}

func targetMetadata(target, problem string, trust model.TrustLevel) model.DatasetMetadata {
	return model.DatasetMetadata{
		TargetColumn:     field(target, trust),
		TimeColumn:       model.MissingField(),
		ProblemType:      field(problem, model.TrustDeclared),
		LabelDescription: model.MissingField(),
		DataSource:       model.MissingField(),
	}
}

func riskIDs(risks []model.StructuralRisk) []model.RiskID {
	ids := make([]model.RiskID, len(risks))
	for i, r := range risks {
		ids[i] = r.RiskID
	}
	return ids
}

func findRisk(risks []model.StructuralRisk, id model.RiskID) (model.StructuralRisk, bool) {
	for _, r := range risks {
		if r.RiskID == id {
			return r, true
		}
	}
	return model.StructuralRisk{}, false
}

func itoa(i int) string { return strconv.Itoa(i) }
