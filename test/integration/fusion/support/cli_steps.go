package support

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
)

// iRun executes "boxfuse <args>" in-process. {image} and {dir} expand to
// the scene image and the scenario directory.
func (testCtx *TestContext) iRun(command string) error {
	testCtx.LastCommand = testCtx.expand(command)
	args := strings.Fields(testCtx.LastCommand)
	if len(args) == 0 || args[0] != "boxfuse" {
		return fmt.Errorf("command must start with boxfuse: %q", command)
	}
	testCtx.executeCLI(args[1:])
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\n%s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFailWith(msg string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded, expected failure", testCtx.LastCommand)
	}
	if !strings.Contains(testCtx.LastError.Error(), msg) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, msg)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(s string) error {
	if !strings.Contains(testCtx.LastOutput, s) {
		return fmt.Errorf("output does not contain %q:\n%s", s, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastOutput)) {
		return fmt.Errorf("output is not valid JSON:\n%s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theJSONOutputShouldListTheExpectedFusedBoxes() error {
	var out struct {
		Fused []json.RawMessage `json:"fused"`
	}
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &out); err != nil {
		return fmt.Errorf("failed to parse output: %w", err)
	}
	if len(out.Fused) != testCtx.Scene.ExpectedFused {
		return fmt.Errorf("expected %d fused boxes, got %d", testCtx.Scene.ExpectedFused, len(out.Fused))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(path string) error {
	path = testCtx.expand(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("expected file %s: %w", path, err)
	}
	return nil
}

func (testCtx *TestContext) filesMatchingShouldExist(pattern string) error {
	matches, err := filepath.Glob(testCtx.expand(pattern))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no files match %s", pattern)
	}
	return nil
}

func (testCtx *TestContext) noFilesMatchingShouldExist(pattern string) error {
	matches, err := filepath.Glob(testCtx.expand(pattern))
	if err != nil {
		return err
	}
	if len(matches) != 0 {
		return fmt.Errorf("unexpected files %v", matches)
	}
	return nil
}

// RegisterCLISteps registers the command line steps.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRun)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail with "([^"]*)"$`, testCtx.theCommandShouldFailWith)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON output should list the expected fused boxes$`, testCtx.theJSONOutputShouldListTheExpectedFusedBoxes)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^files matching "([^"]*)" should exist$`, testCtx.filesMatchingShouldExist)
	sc.Step(`^no files matching "([^"]*)" should exist$`, testCtx.noFilesMatchingShouldExist)
}
