// Package game detects whether the foreground app is a known game.
package game

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"os"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
	"gopkg.in/yaml.v3"
)

//go:embed games.yaml
var defaultList []byte

const queryTimeout = 2 * time.Second

type listFile struct {
	Games []string `yaml:"games"`
}

// List is a set of package names.
type List map[string]struct{}

func (l List) Contains(pkg string) bool {
	_, ok := l[pkg]
	return ok
}

// ParseList decodes a YAML document with a top-level games sequence.
func ParseList(b []byte) (List, error) {
	var f listFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err)
	}

	l := make(List, len(f.Games))
	for _, g := range f.Games {
		if g = strings.TrimSpace(g); g != "" {
			l[g] = struct{}{}
		}
	}

	return l, nil
}

// DefaultList returns the compiled-in game list.
func DefaultList() List {
	l, err := ParseList(defaultList)
	if err != nil {
		panic(err)
	}

	return l
}

// LoadList reads path, or returns the default list when path is empty.
func LoadList(path string) (List, error) {
	if path == "" {
		return DefaultList(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrReadConfig, err).WithData(path)
	}

	return ParseList(b)
}

// Runner executes a shell command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type query struct {
	args   []string
	filter []string // keep only lines containing one of these; empty keeps all
}

var queries = []query{
	{args: []string{"cmd", "activity", "get-top-activity"}},
	{
		args:   []string{"dumpsys", "activity", "activities"},
		filter: []string{"ResumedActivity"},
	},
	{
		args:   []string{"dumpsys", "window", "windows"},
		filter: []string{"mCurrentFocus", "mFocusedApp"},
	},
}

// Detector resolves the foreground package and checks it against a List.
type Detector struct {
	runner Runner
	list   List
	last   string
	log    logger.Logger
}

func NewDetector(runner Runner, list List) *Detector {
	if runner == nil {
		runner = ExecRunner{}
	}

	return &Detector{runner: runner, list: list, log: logger.New("game")}
}

// SetList swaps the game list.
func (d *Detector) SetList(list List) {
	d.list = list
}

// Poll returns the foreground package, empty when unknown, and whether it
// is a listed game.
func (d *Detector) Poll(ctx context.Context) (string, bool) {
	pkg := d.foreground(ctx)
	if pkg != d.last {
		d.last = pkg
		d.log.Debug().Str("package", pkg).Msg("Foreground app changed")
	}

	return pkg, pkg != "" && d.list.Contains(pkg)
}

func (d *Detector) foreground(ctx context.Context) string {
	for _, q := range queries {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		out, err := d.runner.Run(qctx, q.args[0], q.args[1:]...)
		cancel()
		if err != nil {
			continue
		}

		sc := bufio.NewScanner(bytes.NewReader(out))
		for sc.Scan() {
			line := sc.Text()
			if len(q.filter) > 0 && !containsAny(line, q.filter) {
				continue
			}
			if pkg := PackageFromLine(line); pkg != "" {
				return pkg
			}
		}
	}

	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

func sanitize(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '.' || r == '_' || r == '-')
	})
}

// PackageFromLine extracts a package name from an activity or window line,
// such as "topResumedActivity=ActivityRecord{1a2b u0 com.foo/.Main t12}".
func PackageFromLine(line string) string {
	for _, tok := range strings.Fields(line) {
		pkg, _, ok := strings.Cut(tok, "/")
		if !ok || !strings.Contains(pkg, ".") {
			continue
		}
		if p := sanitize(pkg); strings.Contains(p, ".") {
			return p
		}
	}

	if pos := strings.Index(line, "com."); pos >= 0 {
		sub := line[pos:]
		end := len(sub)
		if i := strings.IndexAny(sub, "/ "); i >= 0 {
			end = i
		}
		return sanitize(sub[:end])
	}

	return ""
}
