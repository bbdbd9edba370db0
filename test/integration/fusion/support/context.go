// Package support holds the godog step definitions for the fusion suite.
package support

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/boxfuse/cmd/boxfuse/cmd"
	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Scene under test
	Scene     testutil.Scene
	HaveScene bool
	ImagePath string
	Shapes    []detection.Detection
	Texts     []detection.Detection

	// Pipeline state
	Result *pipeline.Result
	RunErr error

	// Command execution state
	LastCommand string
	LastOutput  string
	LastError   error

	// HTTP state
	HTTPServer         *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string

	// Test environment
	TempDir string
}

// NewTestContext creates a context with its own temporary directory.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "boxfuse-it-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{TempDir: dir, LastHTTPHeaders: map[string]string{}}, nil
}

// Cleanup stops the server and removes the scenario's files.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	return os.RemoveAll(testCtx.TempDir)
}

// expand replaces {image} and {dir} in s.
func (testCtx *TestContext) expand(s string) string {
	return strings.NewReplacer("{image}", testCtx.ImagePath, "{dir}", testCtx.TempDir).Replace(s)
}

// executeCLI runs the boxfuse root command in-process.
func (testCtx *TestContext) executeCLI(args []string) {
	root := cmd.GetRootCommand()
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	testCtx.LastError = root.Execute()
	testCtx.LastOutput = buf.String()
}

// resetFlags restores every flag to its default so scenarios sharing the
// root command do not leak flag values.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
