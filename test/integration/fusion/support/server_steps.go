package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/server"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

func (testCtx *TestContext) startServer(rl server.RateLimitConfig) error {
	s, err := server.NewServer(server.Config{
		Host:           "127.0.0.1",
		CORSOrigin:     "*",
		MaxUploadMB:    10,
		TimeoutSec:     10,
		PipelineConfig: pipeline.DefaultConfig(),
		RateLimit:      rl,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	testCtx.HTTPServer = httptest.NewServer(s.Handler())
	return nil
}

func (testCtx *TestContext) aRunningFusionServer() error {
	return testCtx.startServer(server.RateLimitConfig{})
}

func (testCtx *TestContext) aRunningFusionServerLimitedTo(perMinute int) error {
	return testCtx.startServer(server.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute})
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iGET(path string) error {
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// iPOSTTheSceneTo uploads the rendered scene and its combined detections
// as a multipart form.
func (testCtx *TestContext) iPOSTTheSceneTo(path string) error {
	img, err := utils.EncodePNG(testCtx.Scene.Render())
	if err != nil {
		return err
	}
	dets, err := json.Marshal(detection.Set{Shapes: testCtx.Shapes, Texts: testCtx.Texts})
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "window.png")
	if err != nil {
		return err
	}
	if _, err := fw.Write(img); err != nil {
		return err
	}
	if err := mw.WriteField("detections", string(dets)); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

// iPOSTTheDetectionsAsJSONTo sends the detections without an image.
func (testCtx *TestContext) iPOSTTheDetectionsAsJSONTo(path string) error {
	data, err := json.Marshal(map[string]any{"shapes": testCtx.Shapes, "text": testCtx.Texts})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) iPOSTRawJSONTo(path string, body *godog.DocString) error {
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, strings.NewReader(body.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(s string) error {
	if !bytes.Contains(testCtx.LastHTTPResponse, []byte(s)) {
		return fmt.Errorf("response does not contain %q: %s", s, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("header %s is %q, want %q", name, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldHaveEntries(field string, n int) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &body); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	raw, ok := body[field]
	if !ok {
		return fmt.Errorf("response has no field %q", field)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) != n {
			return fmt.Errorf("field %q has %d entries, want %d", field, len(list), n)
		}
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("field %q is neither a list nor an object", field)
	}
	if len(obj) != n {
		return fmt.Errorf("field %q has %d entries, want %d", field, len(obj), n)
	}
	return nil
}

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a running fusion server$`, testCtx.aRunningFusionServer)
	sc.Step(`^a running fusion server limited to (\d+) requests? per minute$`, testCtx.aRunningFusionServerLimitedTo)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST the scene to "([^"]*)"$`, testCtx.iPOSTTheSceneTo)
	sc.Step(`^I POST the detections as JSON to "([^"]*)"$`, testCtx.iPOSTTheDetectionsAsJSONTo)
	sc.Step(`^I POST this JSON to "([^"]*)":$`, testCtx.iPOSTRawJSONTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response field "([^"]*)" should have (\d+) entries$`, testCtx.theResponseFieldShouldHaveEntries)
}
