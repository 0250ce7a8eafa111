// trigger-golden compiles the trigger specifications of a suite and writes
// the stage registers and wire commands next to the expected output, so
// changes to the compiler show up as a diff.
//
// A case file carries its signal set and sample rate as header comments,
// followed by the specification:
//
//	# Signals: bus:0-7 cs:8
//	# Rate: 100M
//	bus=0x42 and cs=0
//
// Usage:
//
//	trigger-golden -suite testdata/trigger/suite.txt [-only name] [-update]
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"logicsniffer/pkg/config"
	"logicsniffer/pkg/device"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
	"logicsniffer/pkg/trigger"
)

type goldenCase struct {
	signals []string
	rate    uint32
	spec    string
}

// readSuite returns the case paths listed in a suite, relative to the
// suite's directory.
func readSuite(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, filepath.Join(filepath.Dir(path), line))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("suite is empty: %s", path)
	}
	return out, nil
}

func parseCase(path string) (*goldenCase, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &goldenCase{rate: 100000000}
	var body []string
	for _, ln := range strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(ln)
		switch {
		case strings.HasPrefix(trimmed, "# Signals:"):
			c.signals = strings.Fields(strings.TrimPrefix(trimmed, "# Signals:"))
		case strings.HasPrefix(trimmed, "# Rate:"):
			rate, err := config.ParseSampleRate(strings.TrimSpace(strings.TrimPrefix(trimmed, "# Rate:")))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			c.rate = rate
		default:
			body = append(body, ln)
		}
	}
	if len(c.signals) == 0 {
		return nil, fmt.Errorf("missing # Signals in %s", path)
	}
	c.spec = strings.TrimSpace(strings.Join(body, "\n"))
	return c, nil
}

// render compiles a case into its golden text.
func render(name string, c *goldenCase) ([]byte, error) {
	reg := signals.NewRegistry()
	if err := config.AddSignals(reg, c.signals); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "# Case: %s\n", name)
	fmt.Fprintf(&out, "# Generated-by: cmd/trigger-golden\n")

	var stages sump.Stages
	res, err := trigger.Compile(reg, c.rate, c.spec, &stages)
	if err != nil {
		fmt.Fprintf(&out, "\n## Error\n\n%v\n", err)
		return out.Bytes(), nil
	}

	fmt.Fprintf(&out, "\n## Result\n\nsuccess=%v used=%d\n", res.Success, res.Used)
	if len(res.Problems) > 0 {
		fmt.Fprintf(&out, "\n## Problems\n\n")
		for _, msg := range res.Messages() {
			fmt.Fprintf(&out, "%s\n", msg)
		}
	}
	fmt.Fprintf(&out, "\n## Stages\n\n%s", sump.FormatStages(&stages))

	if res.Success {
		var wire bytes.Buffer
		cl := device.NewClient(&recorder{&wire}, device.Options{})
		if err := cl.SetTriggers(nopContext, &stages); err != nil {
			return nil, err
		}
		lines, err := sump.DumpLines(wire.Bytes())
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&out, "\n## Commands\n\n%s\n", strings.Join(lines, "\n"))
	}
	return out.Bytes(), nil
}

func main() {
	var (
		suite  = flag.String("suite", "testdata/trigger/suite.txt", "suite file")
		only   = flag.String("only", "", "only run a single case (path or stem)")
		update = flag.Bool("update", false, "overwrite the expected output")
	)
	flag.Parse()

	cases, err := readSuite(*suite)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}

	failed := 0
	for _, path := range cases {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if *only != "" && *only != path && *only != stem {
			continue
		}
		c, err := parseCase(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		}
		actual, err := render(stem, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s: %v\n", stem, err)
			os.Exit(2)
		}

		dir := filepath.Join(filepath.Dir(path), "golden", stem)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		}
		expectedPath := filepath.Join(dir, "expected.txt")
		if err := os.WriteFile(filepath.Join(dir, "actual.txt"), actual, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		}
		if *update {
			if err := os.WriteFile(expectedPath, actual, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				os.Exit(2)
			}
			fmt.Printf("UPDATED %s\n", stem)
			continue
		}

		expected, err := os.ReadFile(expectedPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Printf("MISSING %s (run with -update)\n", stem)
			failed++
		case err != nil:
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		case !bytes.Equal(expected, actual):
			fmt.Printf("FAIL %s\n", stem)
			failed++
		default:
			fmt.Printf("ok   %s\n", stem)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
