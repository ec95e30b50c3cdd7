package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/steadyrate/internal/engine"
)

// Format represents the available report formats
type Format string

const (
	// FormatText is the human-readable console summary
	FormatText Format = "text"
	// FormatJSON outputs the report as JSON
	FormatJSON Format = "json"
	// FormatYAML outputs the report as YAML
	FormatYAML Format = "yaml"
	// FormatJUnit outputs thresholds as JUnit XML test cases (for CI/CD integration)
	FormatJUnit Format = "junit"
)

// ParseFormat parses a format name. An empty name is text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML, FormatJUnit:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or junit)", s)
	}
}

// FormatFromPath infers the format from a file extension, falling back to
// JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatJUnit
	case ".txt":
		return FormatText
	default:
		return FormatJSON
	}
}

// WriteReport encodes the report in the given format. Text uses a
// colorless console summary.
func WriteReport(w io.Writer, format Format, r *engine.Report) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatYAML:
		return writeYAML(w, r)
	case FormatJUnit:
		return writeJUnit(w, r)
	case FormatText, "":
		NewConsole(ConsoleConfig{Writer: w, NoColor: true}).PrintSummary(r)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteReportFile writes the report to path, inferring the format from the
// extension when format is empty.
func WriteReportFile(path string, format Format, r *engine.Report) error {
	if format == "" {
		format = FormatFromPath(path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteReport(f, format, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

func writeJSON(w io.Writer, r *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// writeYAML goes through JSON so the YAML keys match the JSON field names
// and order.
func writeYAML(w io.Writer, r *engine.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle resets the flow and quoting styles the JSON input carried.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitFailure `xml:"error,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// JUnitReport converts a report to JUnit test suites: one test case per
// threshold. An aborted run adds an errored case.
func JUnitReport(r *engine.Report) *JUnitTestSuites {
	suite := JUnitTestSuite{
		Name:      r.Name,
		Time:      r.Duration.Seconds(),
		Timestamp: r.StartTime.Format(time.RFC3339),
		TestCases: []JUnitTestCase{},
	}

	for _, t := range r.Thresholds {
		tc := JUnitTestCase{
			Name:      fmt.Sprintf("%s: %s", t.Metric, t.Expression),
			Classname: "steadyrate." + r.Name,
		}
		if !t.Passed {
			msg := t.Message
			if msg == "" {
				msg = fmt.Sprintf("observed %s", t.Display)
			}
			tc.Failure = &JUnitFailure{
				Message: msg,
				Type:    "ThresholdFailed",
				Content: fmt.Sprintf("%s %s, observed %s", t.Metric, t.Expression, t.Display),
			}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	if r.Status == engine.StatusAborted {
		suite.TestCases = append(suite.TestCases, JUnitTestCase{
			Name:      "run",
			Classname: "steadyrate." + r.Name,
			Time:      r.Duration.Seconds(),
			Error: &JUnitFailure{
				Message: r.Error,
				Type:    string(r.StopReason),
			},
		})
		suite.Errors++
	}
	suite.Tests = len(suite.TestCases)

	if m := r.Metrics; m != nil {
		suite.SystemOut = fmt.Sprintf("iterations=%d failed=%d dropped=%d error_rate=%.4f p95=%s",
			m.Iterations, m.Failed, m.Dropped, m.ErrorRate, m.Latency.P95)
	}

	return &JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}
}

func writeJUnit(w io.Writer, r *engine.Report) error {
	out, err := xml.MarshalIndent(JUnitReport(r), "", "  ")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
