package support

import (
	"fmt"
	"image"
	"slices"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/geometry"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/testutil"
)

func (testCtx *TestContext) theDefaultSyntheticWindow() error {
	testCtx.Scene = testutil.DefaultScene()
	testCtx.HaveScene = true
	testCtx.Shapes, testCtx.Texts = testCtx.Scene.Shapes, testCtx.Scene.Texts
	return nil
}

func (testCtx *TestContext) theWindowShiftedBy(dx, dy int) error {
	testCtx.Scene = testutil.DefaultScene().Shifted(dx, dy)
	testCtx.HaveScene = true
	testCtx.Shapes, testCtx.Texts = testCtx.Scene.Shapes, testCtx.Scene.Texts
	return nil
}

func (testCtx *TestContext) theSceneIsWrittenToDisk() error {
	path, err := testutil.WriteScene(testCtx.TempDir, "window", testCtx.Scene)
	if err != nil {
		return err
	}
	testCtx.ImagePath = path
	return nil
}

func parseBox(s string) (geometry.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Box{}, fmt.Errorf("box %q needs four coordinates", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geometry.Box{}, fmt.Errorf("box %q: %w", s, err)
		}
		v[i] = n
	}
	return geometry.Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

func (testCtx *TestContext) aShapeAt(coords string) error {
	b, err := parseBox(coords)
	if err != nil {
		return err
	}
	testCtx.Shapes = append(testCtx.Shapes, detection.Detection{
		Box: b, Source: detection.SourceShape, Type: detection.TypeIcon, Confidence: 0.9, ID: len(testCtx.Shapes),
	})
	return nil
}

func (testCtx *TestContext) aTextAt(coords string) error {
	b, err := parseBox(coords)
	if err != nil {
		return err
	}
	testCtx.Texts = append(testCtx.Texts, detection.Detection{
		Box: b, Source: detection.SourceText, Type: detection.TypeText, Confidence: 0.9, ID: len(testCtx.Texts),
	})
	return nil
}

func (testCtx *TestContext) run(layoutOn bool) error {
	p, err := pipeline.NewBuilder().WithLayoutEnabled(layoutOn).Build()
	if err != nil {
		return err
	}
	var img image.Image
	if testCtx.HaveScene {
		img = testCtx.Scene.Render()
	}
	testCtx.Result, testCtx.RunErr = p.RunDetections(testCtx.Shapes, testCtx.Texts, img)
	return testCtx.RunErr
}

func (testCtx *TestContext) iRunThePipeline() error { return testCtx.run(true) }

func (testCtx *TestContext) iRunThePipelineWithoutLayout() error { return testCtx.run(false) }

func (testCtx *TestContext) fusedBoxesShouldRemain(n int) error {
	if got := len(testCtx.Result.Fused); got != n {
		return fmt.Errorf("expected %d fused boxes, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) theExpectedFusedBoxesShouldRemain() error {
	return testCtx.fusedBoxesShouldRemain(testCtx.Scene.ExpectedFused)
}

func (testCtx *TestContext) fusionStatShouldBe(n int, what string) error {
	fs := testCtx.Result.FusionStats
	stats := map[string]int{
		"discarded as overlapping": fs.OverlapDiscarded,
		"discarded as dense":       fs.DensityDiscarded,
		"retagged as text":         fs.Retagged,
		"replaced by text":         fs.SubsumedShapes,
		"rejected as invalid":      fs.ShapesInvalid,
	}
	got, ok := stats[what]
	if !ok {
		return fmt.Errorf("unknown fusion statistic %q", what)
	}
	if got != n {
		return fmt.Errorf("expected %d shapes %s, got %d", n, what, got)
	}
	return nil
}

func (testCtx *TestContext) fusedBoxShouldBe(id int, typ, source string) error {
	for _, f := range testCtx.Result.Fused {
		if f.MergedID != id {
			continue
		}
		if f.Type.String() != typ || f.Source.String() != source {
			return fmt.Errorf("fused box %d is %s from %s, want %s from %s", id, f.Type, f.Source, typ, source)
		}
		return nil
	}
	return fmt.Errorf("no fused box with merged id %d", id)
}

func (testCtx *TestContext) mergedIDsShouldBeSequential() error {
	for i, f := range testCtx.Result.Fused {
		if f.MergedID != i {
			return fmt.Errorf("fused box %d has merged id %d", i, f.MergedID)
		}
	}
	return nil
}

func (testCtx *TestContext) theGroupsShouldBeTheExpectedGroups() error {
	got := testCtx.Result.Groups.IDs()
	if !slices.Equal(got, testCtx.Scene.ExpectedGroupIDs) {
		return fmt.Errorf("expected groups %v, got %v", testCtx.Scene.ExpectedGroupIDs, got)
	}
	return nil
}

func (testCtx *TestContext) thereShouldBeNoGroups() error {
	if n := testCtx.Result.Groups.Len(); n != 0 {
		return fmt.Errorf("expected no groups, got %d", n)
	}
	return nil
}

func (testCtx *TestContext) everyFusedBoxBelongsToAtMostOneGroup() error {
	seen := map[int]string{}
	for _, g := range testCtx.Result.Groups.Groups() {
		for _, b := range g.Boxes {
			if prev, dup := seen[b.MergedID]; dup {
				return fmt.Errorf("merged id %d is in %s and %s", b.MergedID, prev, g.ID)
			}
			seen[b.MergedID] = g.ID
		}
	}
	return nil
}

func (testCtx *TestContext) horizontalGroupsShouldBeOrderedLeftToRight() error {
	for _, g := range testCtx.Result.Groups.Groups() {
		if !strings.HasPrefix(g.ID, "H") || strings.HasPrefix(g.ID, "HL") {
			continue
		}
		for i := 1; i < len(g.Boxes); i++ {
			if g.Boxes[i].Box.X1 < g.Boxes[i-1].Box.X1 {
				return fmt.Errorf("group %s is not ordered left to right", g.ID)
			}
		}
	}
	return nil
}

func (testCtx *TestContext) atLeastCompositesShouldBeProduced(n int) error {
	if testCtx.Result.Layout == nil {
		return fmt.Errorf("no layout in result")
	}
	if got := len(testCtx.Result.Layout.Composites); got < n {
		return fmt.Errorf("expected at least %d composites, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) everyCompositeShouldBe(w, h int) error {
	for _, c := range testCtx.Result.Layout.Composites {
		b := c.Image.Bounds()
		if b.Dx() != w || b.Dy() != h {
			return fmt.Errorf("composite %d is %dx%d, want %dx%d", c.Index, b.Dx(), b.Dy(), w, h)
		}
	}
	return nil
}

func (testCtx *TestContext) theMappingShouldCoverEveryGroupedBox() error {
	mapping := testCtx.Result.Layout.Mapping
	for _, g := range testCtx.Result.Groups.Groups() {
		for i, b := range g.Boxes {
			e, ok := mapping[b.MergedID]
			if !ok {
				return fmt.Errorf("merged id %d of %s has no mapping entry", b.MergedID, g.ID)
			}
			if e.GroupID != g.ID || e.Index != i+1 {
				return fmt.Errorf("merged id %d maps to %s/%d, want %s/%d", b.MergedID, e.GroupID, e.Index, g.ID, i+1)
			}
		}
	}
	return nil
}

// RegisterPipelineSteps registers the in-process pipeline steps.
func (testCtx *TestContext) RegisterPipelineSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the default synthetic window$`, testCtx.theDefaultSyntheticWindow)
	sc.Step(`^the synthetic window shifted by (\d+) and (\d+)$`, testCtx.theWindowShiftedBy)
	sc.Step(`^the scene is written to disk$`, testCtx.theSceneIsWrittenToDisk)
	sc.Step(`^a shape at "([^"]*)"$`, testCtx.aShapeAt)
	sc.Step(`^a text box at "([^"]*)"$`, testCtx.aTextAt)
	sc.Step(`^no detections$`, func() error { return nil })
	sc.Step(`^I run the pipeline$`, testCtx.iRunThePipeline)
	sc.Step(`^I run the pipeline without layout$`, testCtx.iRunThePipelineWithoutLayout)
	sc.Step(`^(\d+) fused box(?:es)? should remain$`, testCtx.fusedBoxesShouldRemain)
	sc.Step(`^the expected number of fused boxes should remain$`, testCtx.theExpectedFusedBoxesShouldRemain)
	sc.Step(`^(\d+) shapes? should be (discarded as overlapping|discarded as dense|retagged as text|replaced by text|rejected as invalid)$`,
		testCtx.fusionStatShouldBe)
	sc.Step(`^fused box (\d+) should be of type "([^"]*)" from "([^"]*)"$`, testCtx.fusedBoxShouldBe)
	sc.Step(`^merged ids should run from zero without gaps$`, testCtx.mergedIDsShouldBeSequential)
	sc.Step(`^the groups should be the expected groups$`, testCtx.theGroupsShouldBeTheExpectedGroups)
	sc.Step(`^there should be no groups$`, testCtx.thereShouldBeNoGroups)
	sc.Step(`^every fused box should belong to at most one group$`, testCtx.everyFusedBoxBelongsToAtMostOneGroup)
	sc.Step(`^horizontal groups should be ordered left to right$`, testCtx.horizontalGroupsShouldBeOrderedLeftToRight)
	sc.Step(`^at least (\d+) composites? should be produced$`, testCtx.atLeastCompositesShouldBeProduced)
	sc.Step(`^every composite should be (\d+)x(\d+)$`, testCtx.everyCompositeShouldBe)
	sc.Step(`^the mapping should cover every grouped box$`, testCtx.theMappingShouldCoverEveryGroupedBox)
}
