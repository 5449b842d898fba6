package qsim

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

// seed hashes the run inputs so every artifact and the result are stable for
// a given submission.
func seed(rec *record) uint64 {
	h := fnv.New64a()
	names, nums := numericValues(rec.Values)
	for _, k := range names {
		fmt.Fprintf(h, "%s=%g;", k, nums[k])
	}
	var texts []string
	for k, v := range rec.Values {
		if s, ok := v.(string); ok {
			texts = append(texts, fmt.Sprintf("%s=%d;", k, len(s)))
		}
	}
	sort.Strings(texts)
	for _, t := range texts {
		h.Write([]byte(t))
	}
	return h.Sum64()
}

func unit(seed uint64, salt string) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%s", seed, salt)
	return float64(h.Sum64()%10000) / 10000
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func probability(rec *record) float64 {
	if rec.Options.Probability != nil {
		return *rec.Options.Probability
	}
	return round(0.05+0.9*unit(seed(rec), "p"), 3)
}

func serviceLabel(p float64) string {
	switch {
	case p < 0.3:
		return "low"
	case p < 0.6:
		return "moderate"
	default:
		return "high"
	}
}

func result(rec *record, c *qstage.Catalog, generatedAt string) *qrun.Result {
	p := probability(rec)
	res := &qrun.Result{Probability: p, Label: serviceLabel(p), GeneratedAt: generatedAt}
	if c.Variant == qstage.VariantBranched {
		s := seed(rec)
		res.Submodels = map[string]float64{
			"clinical": clamp01(round(p+0.1*(unit(s, "clinical")-0.5), 3)),
			"imaging":  clamp01(round(p+0.1*(unit(s, "imaging")-0.5), 3)),
		}
	}
	return res
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// artifact builds the payload a stage publishes.
func artifact(rec *record, st qstage.Stage) json.RawMessage {
	s := seed(rec)
	var v any
	switch st.ArtifactKey {
	case "explaining", "sensitivity":
		v = map[string]any{
			"base_probability": probability(rec),
			"factors":          factors(rec, s),
		}
	case "attribution", "imaging":
		v = map[string]any{
			"score":    round(unit(s, st.Key), 3),
			"overlays": []map[string]string{{"name": overlayName(st.ArtifactKey), "image": heatmap(s, st.Key)}},
		}
	case "decoded":
		w, h, format := inputImage(rec)
		v = map[string]any{"width": w, "height": h, "format": format}
	case "normalized", "encoded":
		preview := make([]float64, 64)
		for i := range preview {
			preview[i] = round(unit(s, fmt.Sprintf("%s/%d", st.Key, i))*2-1, 4)
		}
		v = map[string]any{"mean": 0, "std": 1, "tensor_preview": preview}
	case "logits":
		v = map[string]any{"logits": []float64{round(-2+4*unit(s, "l0"), 3), round(-2+4*unit(s, "l1"), 3)}}
	default:
		names, nums := numericValues(rec.Values)
		out := make(map[string]float64, len(names))
		for _, k := range names {
			out[k] = nums[k]
		}
		v = map[string]any{"stage": st.Key, "features": len(names), "values": out}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func overlayName(key string) string {
	if key == "imaging" {
		return "gradcam"
	}
	return "saliency"
}

func factors(rec *record, s uint64) []map[string]any {
	names, nums := numericValues(rec.Values)
	out := make([]map[string]any, 0, len(names))
	for _, k := range names {
		out = append(out, map[string]any{
			"feature":   k,
			"base":      nums[k],
			"perturbed": round(nums[k]*0.9, 2),
			"delta":     round(0.2*unit(s, "delta/"+k)-0.1, 4),
		})
	}
	return out
}

// inputImage reports the dimensions of the submitted image, 224x224 png when
// it cannot be decoded.
func inputImage(rec *record) (int, int, string) {
	raw, _ := rec.Values["image"].(string)
	if i := strings.Index(raw, ","); strings.HasPrefix(raw, "data:") && i > 0 {
		raw = raw[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return 224, 224, "png"
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 224, 224, "png"
	}
	return cfg.Width, cfg.Height, format
}

// heatmap renders a small deterministic attribution map as a base64 PNG.
func heatmap(s uint64, salt string) string {
	const size = 16
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cx := unit(s, salt+"/x") * size
	cy := unit(s, salt+"/y") * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy) / size
			heat := uint8(255 * clamp01(1-d*1.5))
			img.Set(x, y, color.RGBA{R: heat, B: 255 - heat, A: 160})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
