package qrender

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"reflect"
	"strings"
	"testing"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func completedRun(t *testing.T) *qrun.Run {
	return &qrun.Run{
		RunID:  "r-42",
		Status: qrun.StatusCompleted,
		Result: &qrun.Result{
			Probability: 0.42,
			Label:       "moderate",
			Submodels:   map[string]float64{"imaging": 0.471, "clinical": 0.385},
			GeneratedAt: "2026-10-16T10:00:00Z",
		},
		StepArtifacts: map[string]json.RawMessage{
			"sensitivity": json.RawMessage(`{"factors":[
				{"feature":"entry_age","base":72,"perturbed":60,"delta":-0.08},
				{"feature":"CIST_ORIENT","base":3,"perturbed":5,"delta":0.12},
				{"feature":"sex","base":"F","perturbed":"M","delta":0.01}
			]}`),
			"imaging": json.RawMessage(fmt.Sprintf(`{"overlays":[{"name":"gradcam","image":"data:image/png;base64,%s"},{"name":"broken","image":"%%%%"}]}`,
				pngBase64(t, 8, 4))),
		},
	}
}

func TestRender_Completed(t *testing.T) {
	out, err := Render(completedRun(t), qstage.Branched)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		"Run r-42 COMPLETED",
		"42.0%",
		"Borderline (service: moderate)",
		"clinical  38.5%",
		"imaging   47.1%",
		"imaging/gradcam  png  8x4",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "broken") {
		t.Errorf("undecodable overlay should be skipped:\n%s", s)
	}

	// ranking by |delta|
	iOrient := strings.Index(s, "CIST_ORIENT")
	iAge := strings.Index(s, "entry_age")
	iSex := strings.Index(s, "sex")
	if !(iOrient < iAge && iAge < iSex) {
		t.Errorf("factors not ranked by impact:\n%s", s)
	}
	if !strings.Contains(s, "+12.0 pp") || !strings.Contains(s, "-8.0 pp") {
		t.Errorf("signed deltas missing:\n%s", s)
	}
}

func TestRender_Idempotent(t *testing.T) {
	run := completedRun(t)
	before := run.Clone()

	first, err := Render(run, qstage.Branched)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	second, _ := Render(run, qstage.Branched)
	if !bytes.Equal(first, second) {
		t.Fatalf("render is not idempotent:\n%s\n---\n%s", first, second)
	}
	if !reflect.DeepEqual(before, run) {
		t.Fatal("Render modified its input")
	}
}

func TestRender_DataMissing(t *testing.T) {
	run := &qrun.Run{
		RunID:           "r-b",
		Status:          qrun.StatusDataMissing,
		MissingRequired: []string{"entry_age"},
	}
	out, err := Render(run, qstage.Tabular)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "  - entry_age\n") {
		t.Errorf("missing field not listed:\n%s", s)
	}
	if strings.Contains(s, "Probability") || strings.Contains(s, "%") {
		t.Errorf("no probability panel expected:\n%s", s)
	}
}

func TestRender_Failed(t *testing.T) {
	run := &qrun.Run{
		RunID:  "r-f",
		Status: qrun.StatusFailed,
		Error:  "imputer exploded",
		StepArtifacts: map[string]json.RawMessage{
			"ordering": json.RawMessage(`{}`),
		},
	}
	out, _ := Render(run, qstage.Tabular)
	s := string(out)
	if !strings.Contains(s, "imputer exploded") {
		t.Errorf("service error not shown:\n%s", s)
	}
	clipping, _ := qstage.Tabular.Stage("clipping")
	if !strings.Contains(s, "Failed stage  "+clipping.Label) {
		t.Errorf("failed stage not shown:\n%s", s)
	}

	run.Error = ""
	out, _ = Render(run, qstage.Tabular, WithTransportError(errors.New("connection reset")))
	if !strings.Contains(string(out), "lost contact with the service: connection reset") {
		t.Errorf("transport error not shown:\n%s", out)
	}
}

func TestRender_NotTerminal(t *testing.T) {
	if _, err := Render(&qrun.Run{Status: "ORDERING"}, qstage.Tabular); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	if _, err := Render(nil, qstage.Tabular); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal for nil run, got %v", err)
	}
}

func TestRiskBand(t *testing.T) {
	cases := map[float64]string{
		0:     RiskLow,
		0.299: RiskLow,
		0.3:   RiskBorderline,
		0.42:  RiskBorderline,
		0.599: RiskBorderline,
		0.6:   RiskHigh,
		1:     RiskHigh,
	}
	for p, want := range cases {
		if got := RiskBand(p); got != want {
			t.Errorf("RiskBand(%v) = %s, want %s", p, got, want)
		}
	}
	if Percent(0.42) != "42.0%" {
		t.Errorf("Percent(0.42) = %s", Percent(0.42))
	}
}

func TestOverlays(t *testing.T) {
	run := completedRun(t)
	ovs := Overlays(run, qstage.Branched)
	if len(ovs) != 1 {
		t.Fatalf("expected 1 overlay, got %d", len(ovs))
	}
	ov := ovs[0]
	if ov.Stage != "imaging" || ov.Name != "gradcam" || ov.Format != "png" || ov.ContentType() != "image/png" {
		t.Fatalf("unexpected overlay %+v", ov)
	}
	if _, err := png.Decode(bytes.NewReader(ov.Data)); err != nil {
		t.Fatalf("overlay data is not a png: %v", err)
	}
}
