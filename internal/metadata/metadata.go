// Package metadata loads trust-tagged dataset declarations and resolves them
// into epistemic risks.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dataset-audit/internal/model"
)

// Configuration errors. Both are fatal and reject the run before detection.
var (
	ErrNotFound        = eris.New("metadata file not found")
	ErrInvalidMetadata = eris.New("invalid metadata")
)

var supportedFormats = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// Default returns metadata with every field MISSING.
func Default() model.DatasetMetadata {
	return model.DatasetMetadata{
		TargetColumn:     model.MissingField(),
		TimeColumn:       model.MissingField(),
		ProblemType:      model.MissingField(),
		LabelDescription: model.MissingField(),
		DataSource:       model.MissingField(),
	}
}

// Load reads a YAML or JSON metadata document.
func Load(path string) (model.DatasetMetadata, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedFormats[ext] {
		return model.DatasetMetadata{}, eris.Wrapf(ErrInvalidMetadata, "unsupported metadata format %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.DatasetMetadata{}, eris.Wrapf(ErrNotFound, "metadata: %s", path)
		}
		return model.DatasetMetadata{}, eris.Wrapf(err, "metadata: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a metadata document. JSON input is accepted as YAML.
// Fields that are absent default to MISSING; fields that are present must be
// objects with an optional value and an optional trust tag.
func Parse(data []byte) (model.DatasetMetadata, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.DatasetMetadata{}, eris.Wrapf(ErrInvalidMetadata, "decode: %v", err)
	}
	if doc == nil {
		return Default(), nil
	}
	raw, ok := doc.(map[string]any)
	if !ok {
		return model.DatasetMetadata{}, eris.Wrapf(ErrInvalidMetadata, "document must be a mapping, got %T", doc)
	}

	md := Default()
	fields := []struct {
		key string
		dst *model.MetadataField
	}{
		{"target_column", &md.TargetColumn},
		{"time_column", &md.TimeColumn},
		{"problem_type", &md.ProblemType},
		{"label_description", &md.LabelDescription},
		{"data_source", &md.DataSource},
	}
	for _, f := range fields {
		v, present := raw[f.key]
		if !present {
			continue
		}
		field, err := parseField(f.key, v)
		if err != nil {
			return model.DatasetMetadata{}, err
		}
		*f.dst = field
	}
	return md, nil
}

func parseField(key string, v any) (model.MetadataField, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return model.MetadataField{}, eris.Wrapf(ErrInvalidMetadata, "%s: field must be an object", key)
	}

	field := model.MissingField()
	if rawTrust, ok := obj["trust"]; ok && rawTrust != nil {
		s, isStr := rawTrust.(string)
		trust, valid := model.ParseTrustLevel(s)
		if !isStr || !valid {
			return model.MetadataField{}, eris.Wrapf(ErrInvalidMetadata, "%s: invalid trust level %v", key, rawTrust)
		}
		field.Trust = trust
	}

	if rawValue, ok := obj["value"]; ok && rawValue != nil {
		switch val := rawValue.(type) {
		case string:
			field.Value = &val
		case map[string]any, []any:
			return model.MetadataField{}, eris.Wrapf(ErrInvalidMetadata, "%s: value must be a scalar", key)
		default:
			s := fmt.Sprint(val)
			field.Value = &s
		}
	}
	return field, nil
}

// Resolve turns declared trust into unassessed risks. It never looks at the
// data itself.
func Resolve(md model.DatasetMetadata) []model.UnassessedRisk {
	var unknowns []model.UnassessedRisk

	if md.TargetColumn.Trust.Below(model.TrustVerified) {
		unknowns = append(unknowns, model.UnassessedRisk{
			Category:          "label_provenance",
			Description:       "Target column is not verified. Label correctness, noise, and policy bias cannot be assessed.",
			AffectedComponent: "target_column",
		})
	}

	if md.TimeColumn.Trust == model.TrustMissing {
		unknowns = append(unknowns, model.UnassessedRisk{
			Category:          "temporal_context",
			Description:       "No time column provided. Temporal leakage and non-stationarity cannot be evaluated.",
			AffectedComponent: "time_column",
		})
	}

	if md.ProblemType.Trust == model.TrustMissing {
		unknowns = append(unknowns, model.UnassessedRisk{
			Category:          "problem_definition",
			Description:       "Problem type is missing. Appropriate evaluation metrics and assumptions are unclear.",
			AffectedComponent: "problem_type",
		})
	}

	return unknowns
}
