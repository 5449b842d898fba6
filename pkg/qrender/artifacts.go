package qrender

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	// decoders registered with image.DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

// Factor is one perturbation result of the explanation stage.
type Factor struct {
	Feature   string          `json:"feature"`
	Base      json.RawMessage `json:"base"`
	Perturbed json.RawMessage `json:"perturbed"`
	Delta     float64         `json:"delta"`
}

type explanation struct {
	Factors []Factor `json:"factors"`
}

// Factors collects the explanation factors of run, ranked by |delta|
// descending with ties broken by feature name. The artifact of the latest
// stage that carries a "factors" list wins.
func Factors(run *qrun.Run, c *qstage.Catalog) []Factor {
	if run == nil {
		return nil
	}
	var found []Factor
	for _, key := range artifactKeys(run, c) {
		var ex explanation
		if err := json.Unmarshal(run.StepArtifacts[key], &ex); err != nil || len(ex.Factors) == 0 {
			continue
		}
		found = ex.Factors
	}
	out := make([]Factor, 0, len(found))
	for _, f := range found {
		if f.Feature == "" || math.IsNaN(f.Delta) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Delta), math.Abs(out[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// Overlay is a decoded image artifact.
type Overlay struct {
	Stage  string
	Name   string
	Format string
	Width  int
	Height int
	Data   []byte
}

// ContentType returns the MIME type of the overlay image.
func (o Overlay) ContentType() string {
	return "image/" + o.Format
}

type overlayList struct {
	Overlays []struct {
		Name  string `json:"name"`
		Image string `json:"image"`
	} `json:"overlays"`
}

// Overlays decodes every image carried in an "overlays" list of the run's
// artifacts, in catalog order. Entries that are not valid base64 images are
// skipped.
func Overlays(run *qrun.Run, c *qstage.Catalog) []Overlay {
	if run == nil {
		return nil
	}
	var out []Overlay
	for _, key := range artifactKeys(run, c) {
		var list overlayList
		if err := json.Unmarshal(run.StepArtifacts[key], &list); err != nil {
			continue
		}
		for i, entry := range list.Overlays {
			data, err := decodeBase64Image(entry.Image)
			if err != nil {
				continue
			}
			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				continue
			}
			name := entry.Name
			if name == "" {
				name = fmt.Sprintf("%s-%d", key, i)
			}
			out = append(out, Overlay{
				Stage:  key,
				Name:   name,
				Format: format,
				Width:  cfg.Width,
				Height: cfg.Height,
				Data:   data,
			})
		}
	}
	return out
}

// decodeBase64Image accepts plain base64 (standard or URL alphabet, padded
// or not) and data URIs.
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data uri")
		}
		s = s[i+1:]
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("not base64")
}

// artifactKeys lists the artifact keys present on run: catalog artifacts in
// stage order first, then any others sorted by name.
func artifactKeys(run *qrun.Run, c *qstage.Catalog) []string {
	seen := make(map[string]bool, len(run.StepArtifacts))
	var keys []string
	if c != nil {
		for _, st := range c.Stages() {
			if st.ArtifactKey == "" || seen[st.ArtifactKey] {
				continue
			}
			if _, ok := run.StepArtifacts[st.ArtifactKey]; ok {
				keys = append(keys, st.ArtifactKey)
				seen[st.ArtifactKey] = true
			}
		}
	}
	var rest []string
	for k := range run.StepArtifacts {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
