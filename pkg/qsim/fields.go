package qsim

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

// Model names announced in meta, per variant.
var models = map[string]struct {
	name    string
	version string
	fields  []qrun.Field
}{
	qstage.VariantTabular: {
		name:    "dementia-risk-gbm",
		version: "3.1.0",
		fields: []qrun.Field{
			{Name: "entry_age", Label: "Age at entry", Required: true, Default: 70},
			{Name: "sex", Label: "Sex", Required: true},
			{Name: "education_years", Label: "Years of education", Default: 12},
			{Name: "CIST_ORIENT", Label: "CIST orientation", Required: true},
			{Name: "CIST_ATTENTION", Label: "CIST attention"},
			{Name: "CIST_MEMORY", Label: "CIST memory"},
			{Name: "mmse", Label: "MMSE total"},
		},
	},
	qstage.VariantBranched: {
		name:    "dementia-risk-branched",
		version: "1.4.2",
		fields: []qrun.Field{
			{Name: "entry_age", Label: "Age at entry", Required: true, Default: 70},
			{Name: "CIST_ORIENT", Label: "CIST orientation", Required: true},
			{Name: "mmse", Label: "MMSE total"},
			{Name: "scan", Label: "MRI slice (base64)"},
		},
	},
	qstage.VariantImage: {
		name:    "mri-classifier",
		version: "0.9.0",
		fields: []qrun.Field{
			{Name: "image", Label: "MRI slice (base64)", Required: true},
		},
	},
}

// Options are the per-run switches a client may send with a submission.
type Options struct {
	// AllowMissingDemo lets a run proceed with required fields missing.
	AllowMissingDemo bool `mapstructure:"allow_missing_demo" json:"allow_missing_demo,omitempty"`
	// FailAt injects a failure when the named stage starts.
	FailAt string `mapstructure:"fail_at" json:"fail_at,omitempty"`
	// ReportFailedStage names the failing stage in the payload.
	ReportFailedStage bool `mapstructure:"report_failed_stage" json:"report_failed_stage,omitempty"`
	// Probability overrides the computed result.
	Probability *float64 `mapstructure:"probability" json:"probability,omitempty"`
}

// ValidationError rejects a submission before a run is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func decodeOptions(raw map[string]any, c *qstage.Catalog) (Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, &ValidationError{Field: "options", Message: err.Error()}
	}
	if opts.FailAt != "" {
		st, ok := c.Stage(opts.FailAt)
		if !ok {
			return opts, &ValidationError{Field: "options.fail_at", Message: fmt.Sprintf("unknown stage %q", opts.FailAt)}
		}
		opts.FailAt = st.Key
	}
	if p := opts.Probability; p != nil && (*p < 0 || *p > 1) {
		return opts, &ValidationError{Field: "options.probability", Message: "must be between 0 and 1"}
	}
	return opts, nil
}

// missingRequired lists required fields that are absent or null, in field
// order.
func missingRequired(fields []qrun.Field, values map[string]any) []string {
	var out []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if v, ok := values[f.Name]; !ok || v == nil {
			out = append(out, f.Name)
		}
	}
	return out
}

// numericValues returns the numeric inputs sorted by name.
func numericValues(values map[string]any) ([]string, map[string]float64) {
	nums := make(map[string]float64)
	for k, v := range values {
		switch n := v.(type) {
		case float64:
			nums[k] = n
		case float32:
			nums[k] = float64(n)
		case int:
			nums[k] = float64(n)
		case int64:
			nums[k] = float64(n)
		}
	}
	names := make([]string, 0, len(nums))
	for k := range nums {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nums
}
