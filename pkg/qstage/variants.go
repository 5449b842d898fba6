package qstage

import (
	"fmt"
	"sort"
	"strings"
)

// Variant names.
const (
	VariantTabular  = "tabular"
	VariantBranched = "branched"
	VariantImage    = "image"
)

// Tabular is the tabular risk model pipeline. It reports authoritative
// step_states; without them a FAILED run blames the stage after the deepest
// artifact.
var Tabular = MustCatalog(VariantTabular, []Stage{
	{Key: "validating", Label: "Validate inputs"},
	{Key: "ordering", Label: "Order features", ArtifactKey: "ordering"},
	{Key: "clipping", Label: "Clip outliers", ArtifactKey: "clipping"},
	{Key: "imputing", Label: "Impute missing values", ArtifactKey: "imputing"},
	{Key: "scaling", Label: "Scale features", ArtifactKey: "scaling"},
	{Key: "inferencing", Label: "Run model", ArtifactKey: "inferencing"},
	{Key: "explaining", Label: "Sensitivity analysis", ArtifactKey: "explaining"},
}, WithStepStates(), WithInference(ArtifactScan{}))

// Branched is the branched neural classifier. Its stages publish on entry, so
// the deepest publisher is the one that failed.
var Branched = MustCatalog(VariantBranched, []Stage{
	{Key: "validating", Label: "Validate inputs"},
	{Key: "encoding", Label: "Encode features", ArtifactKey: "encoded"},
	{Key: "branching", Label: "Route branches", ArtifactKey: "branches"},
	{Key: "clinical_branch", Label: "Clinical branch", ArtifactKey: "clinical"},
	{Key: "imaging_branch", Label: "Imaging branch", ArtifactKey: "imaging"},
	{Key: "fusing", Label: "Fuse branches", ArtifactKey: "fusion"},
	{Key: "explaining", Label: "Sensitivity analysis", ArtifactKey: "sensitivity"},
}, WithInference(ArtifactScan{FailPublisher: true}))

// Image is the image classifier pipeline.
var Image = MustCatalog(VariantImage, []Stage{
	{Key: "decoding", Label: "Decode image", ArtifactKey: "decoded"},
	{Key: "resizing", Label: "Resize", ArtifactKey: "resized"},
	{Key: "normalizing", Label: "Normalize", ArtifactKey: "normalized"},
	{Key: "inferencing", Label: "Classify", ArtifactKey: "logits"},
	{Key: "attributing", Label: "Attribution map", ArtifactKey: "attribution"},
}, WithInference(ArtifactScan{FailPublisher: true}))

var variants = map[string]*Catalog{
	VariantTabular:  Tabular,
	VariantBranched: Branched,
	VariantImage:    Image,
}

// Lookup returns the catalog of a named variant.
func Lookup(name string) (*Catalog, error) {
	c, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline variant %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the known variants.
func Names() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
