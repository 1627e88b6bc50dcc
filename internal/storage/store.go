// Package storage writes data-recording groups: a CSV log of selected
// variables sampled during the run, plus a metadata.json per run.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/vars"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID            string             `json:"id"`
	Group         string             `json:"group"`
	Scenario      string             `json:"scenario"`
	Solver        string             `json:"solver"`
	Integrator    string             `json:"integrator"`
	Timestamp     time.Time          `json:"timestamp"`
	Dt            float64            `json:"dt"`
	TerminateTime float64            `json:"terminate_time"`
	NumParticles  int                `json:"num_particles"`
	Columns       []string           `json:"columns"`
	Frames        int64              `json:"frames"`
	EndTime       float64            `json:"end_time"`
	Reason        string             `json:"reason,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}

func logName(group string) string {
	return "log_" + group + ".csv"
}

// Source is where a recorder samples from; *sim.Engine satisfies it.
type Source interface {
	Lookup(name string) (*vars.Binding, error)
	Read(fn func())
}

// Recorder samples a fixed list of variables every Every frames and appends
// one CSV row per sample. It is driven as a simulation observer.
type Recorder struct {
	dir      string
	meta     RunMetadata
	src      Source
	bindings []*vars.Binding
	every    int64

	file *os.File
	w    *csv.Writer
	row  []string
	vals []float64
	err  error
}

// Open creates the run directory and the CSV header. Unknown variable names
// fail here, before the run starts.
func (s *Store) Open(meta RunMetadata, src Source, names []string, every int) (*Recorder, error) {
	if every <= 0 {
		every = 1
	}
	if meta.Group == "" {
		meta.Group = "fluid"
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if meta.ID == "" {
		meta.ID = fmt.Sprintf("%s_%d", meta.Scenario, meta.Timestamp.Unix())
	}

	bindings := make([]*vars.Binding, 0, len(names))
	header := make([]string, 0, len(names))
	for _, name := range names {
		b, err := src.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
		bindings = append(bindings, b)
		units := b.Units
		if units == "" {
			units = "--"
		}
		header = append(header, fmt.Sprintf("%s {%s}", b.Name, units))
	}
	meta.Columns = append([]string(nil), names...)

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(runDir, logName(meta.Group)))
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}

	return &Recorder{
		dir:      runDir,
		meta:     meta,
		src:      src,
		bindings: bindings,
		every:    int64(every),
		file:     f,
		w:        w,
		row:      make([]string, len(bindings)),
		vals:     make([]float64, len(bindings)),
	}, nil
}

func (r *Recorder) ID() string  { return r.meta.ID }
func (r *Recorder) Dir() string { return r.dir }

// OnFrame records a row on every Every-th frame. Write errors are kept and
// returned by Close.
func (r *Recorder) OnFrame(clock dynamo.Clock) {
	if r.err != nil || clock.Frame%r.every != 0 {
		return
	}
	r.sample()
	r.meta.Frames, r.meta.EndTime = clock.Frame, clock.Time
}

func (r *Recorder) sample() {
	r.src.Read(func() {
		for i, b := range r.bindings {
			v, err := b.Value()
			if err != nil {
				v = 0
			}
			r.vals[i] = v
		}
	})
	for i, b := range r.bindings {
		r.row[i] = b.Format(r.vals[i])
	}
	r.err = r.w.Write(r.row)
}

// Close flushes the log and writes metadata.json with the final status.
func (r *Recorder) Close(clock dynamo.Clock, reason string, metrics map[string]float64) error {
	r.w.Flush()
	if r.err == nil {
		r.err = r.w.Error()
	}
	if err := r.file.Close(); err != nil && r.err == nil {
		r.err = err
	}

	r.meta.Frames, r.meta.EndTime = clock.Frame, clock.Time
	r.meta.Reason = reason
	r.meta.Metrics = metrics
	if err := writeMetadata(filepath.Join(r.dir, "metadata.json"), r.meta); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}

func writeMetadata(path string, meta RunMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadColumn returns every recorded value of one variable.
func (s *Store) LoadColumn(runID, name string) ([]float64, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, runID, logName(meta.Group)))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []float64{}, nil
	}

	col := -1
	for i, h := range records[0] {
		if h == name || strings.HasPrefix(h, name+" {") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %q not recorded in %s", dynamo.ErrUnknownVariable, name, runID)
	}

	out := make([]float64, 0, len(records)-1)
	for _, rec := range records[1:] {
		v, err := strconv.ParseFloat(rec[col], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
