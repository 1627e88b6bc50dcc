// Package script reads input scripts: line-oriented files of variable
// assignments and launch directives consumed once before the run.
//
//	# comments run to end of line
//	exec_set_terminate_time(5.0)
//	real_time_enable()
//	dyn.fluid.BOUND = 300
//	scenario.mode = 2
package script

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/fluidsim/internal/config"
	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/vars"
)

type Assignment struct {
	Line  int
	Name  string
	Value string
}

type Directive struct {
	Line int
	Name string
	Args []float64
}

type Script struct {
	Path        string
	Assignments []Assignment
	Directives  []Directive
}

// directives lists the launch directives and their argument counts.
var directives = map[string]int{
	"var_server_set_port":     1,
	"var_ascii":               0,
	"var_binary":              0,
	"real_time_enable":        0,
	"real_time_disable":       0,
	"exec_set_software_frame": 1,
	"exec_set_terminate_time": 1,
}

func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: input script: %v", dynamo.ErrConfiguration, err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

func Parse(r io.Reader) (*Script, error) {
	s := &Script{}
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if name, value, ok := strings.Cut(line, "="); ok {
			name, value = strings.TrimSpace(name), strings.TrimSpace(value)
			if name == "" || value == "" {
				return nil, lineErr(n, "expected name = value")
			}
			s.Assignments = append(s.Assignments, Assignment{Line: n, Name: name, Value: value})
			continue
		}

		d, err := parseDirective(n, line)
		if err != nil {
			return nil, err
		}
		s.Directives = append(s.Directives, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: input script: %v", dynamo.ErrConfiguration, err)
	}
	return s, nil
}

func parseDirective(n int, line string) (Directive, error) {
	open := strings.IndexByte(line, '(')
	if open < 0 || !strings.HasSuffix(line, ")") {
		return Directive{}, lineErr(n, "expected assignment or directive call, got %q", line)
	}
	name := strings.TrimSpace(line[:open])
	want, ok := directives[name]
	if !ok {
		return Directive{}, lineErr(n, "unknown directive %q", name)
	}

	d := Directive{Line: n, Name: name}
	if inner := strings.TrimSpace(line[open+1 : len(line)-1]); inner != "" {
		for _, a := range strings.Split(inner, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
			if err != nil {
				return Directive{}, lineErr(n, "%s: bad argument %q", name, a)
			}
			d.Args = append(d.Args, v)
		}
	}
	if len(d.Args) != want {
		return Directive{}, lineErr(n, "%s takes %d argument(s), got %d", name, want, len(d.Args))
	}
	return d, nil
}

func lineErr(n int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", dynamo.ErrConfiguration, n, fmt.Sprintf(format, args...))
}

// Configure applies the launch directives to cfg.
func (s *Script) Configure(cfg *config.Config) {
	for _, d := range s.Directives {
		switch d.Name {
		case "var_server_set_port":
			cfg.Server.Port = int(d.Args[0])
		case "var_ascii":
			cfg.Server.Mode = "ascii"
		case "var_binary":
			cfg.Server.Mode = "binary"
		case "real_time_enable":
			cfg.RealTime = true
		case "real_time_disable":
			cfg.RealTime = false
		case "exec_set_software_frame":
			cfg.Dt = d.Args[0]
		case "exec_set_terminate_time":
			cfg.TerminateTime = d.Args[0]
		}
	}
}

// Target resolves and writes variables; *sim.Engine satisfies it.
type Target interface {
	Lookup(name string) (*vars.Binding, error)
	Write(b *vars.Binding, v float64) error
}

// Apply runs the assignments in order. It stops at the first failure and
// reports the script line.
func (s *Script) Apply(t Target) error {
	for _, a := range s.Assignments {
		b, err := t.Lookup(a.Name)
		if err != nil {
			return fmt.Errorf("line %d: %w", a.Line, err)
		}
		v, err := b.Parse(a.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", a.Line, err)
		}
		if err := t.Write(b, v); err != nil {
			return fmt.Errorf("line %d: %w", a.Line, err)
		}
	}
	return nil
}
