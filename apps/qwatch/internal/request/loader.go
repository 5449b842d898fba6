// Package request loads run submissions from YAML or JSON files and watches
// them for edits.
package request

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quatton/qwatch/pkg/qrun"
)

// Load reads a request file. Files ending in .json are parsed as JSON,
// everything else as YAML. A file may either carry {values, options} or be a
// flat map of values.
func Load(path string) (*qrun.SubmitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request %s: %w", path, err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Parse decodes a request document.
func Parse(data []byte, isJSON bool) (*qrun.SubmitRequest, error) {
	var doc map[string]any
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse request json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse request yaml: %w", err)
		}
	}

	var err error
	req := &qrun.SubmitRequest{}
	values, hasValues := doc["values"]
	options, hasOptions := doc["options"]
	if !hasValues && !hasOptions {
		req.Values = doc
	} else {
		if req.Values, err = asMap(values, "values"); err != nil {
			return nil, err
		}
		if req.Options, err = asMap(options, "options"); err != nil {
			return nil, err
		}
	}
	if req.Values == nil {
		req.Values = map[string]any{}
	}
	return req, nil
}

func asMap(v any, field string) (map[string]any, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return m, nil
	}
	return nil, fmt.Errorf("request %s must be a mapping, got %T", field, v)
}

// ApplyDefaults fills fields the request does not mention with the defaults
// the service announces. Fields set to null stay null.
func ApplyDefaults(req *qrun.SubmitRequest, meta *qrun.Meta) {
	if req == nil || meta == nil {
		return
	}
	if req.Values == nil {
		req.Values = map[string]any{}
	}
	for name, def := range meta.Defaults() {
		if _, ok := req.Values[name]; !ok {
			req.Values[name] = def
		}
	}
}

// UnknownFields lists request values the model does not declare, sorted.
func UnknownFields(req *qrun.SubmitRequest, meta *qrun.Meta) []string {
	if req == nil || meta == nil || len(meta.Fields) == 0 {
		return nil
	}
	known := make(map[string]bool, len(meta.Fields))
	for _, f := range meta.Fields {
		known[f.Name] = true
	}
	var out []string
	for name := range req.Values {
		if !known[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
