package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"wfsched/internal/errs"
	logx "wfsched/pkg/logx"
)

// fileStore is the dependency-free durable backend.
//
// Files, for Path "/var/lib/wfsched/jobs.json":
//   - /var/lib/wfsched/jobs.snapshot.json (full state, rewritten on compaction)
//   - /var/lib/wfsched/jobs.journal.jsonl (append-only mutations since the snapshot)
//
// State is rebuilt on open by loading the snapshot and replaying the journal.
type fileStore struct {
	log logx.Logger
	mem *memoryStore

	mu           sync.Mutex // serializes journal writes and compaction
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type journalOp string

const (
	opPutJob      journalOp = "put_job"
	opDelJob      journalOp = "del_job"
	opPutWorkflow journalOp = "put_workflow"
	opDelWorkflow journalOp = "del_workflow"
	opSeeded      journalOp = "seeded"
)

type journalRecord struct {
	Op       journalOp       `json:"op"`
	ID       string          `json:"id"`
	Job      *Job            `json:"job,omitempty"`
	Workflow json.RawMessage `json:"workflow,omitempty"`
}

type snapshot struct {
	Jobs      []Job      `json:"jobs"`
	Workflows []Workflow `json:"workflows"`
	Seeded    []string   `json:"seeded,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errs.Validation("storage.path is required for the file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		mem:          newMemoryStore(),
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: cfg.CompactEvery,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = 500
	}
	journalPath := prefix + ".journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	replayed, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	// Fold what was replayed into a fresh snapshot so a torn tail line left by
	// a crash never merges with the next appended record.
	if st, err := jf.Stat(); err == nil && st.Size() > 0 {
		if err := s.compactLocked(); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}
	log.Debug("file store opened",
		logx.String("path", path), logx.Int("jobs", len(s.mem.jobs)), logx.Int("journal_records", replayed))
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for _, j := range snap.Jobs {
		s.mem.jobs[j.ID] = j
	}
	for _, w := range snap.Workflows {
		s.mem.workflows[w.ID] = w.Data
	}
	for _, id := range snap.Seeded {
		s.mem.seeded[id] = struct{}{}
	}
	return nil
}

func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			// A torn final line from a crash is skipped.
			continue
		}
		s.apply(r)
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) apply(r journalRecord) {
	switch r.Op {
	case opPutJob:
		if r.Job != nil {
			s.mem.jobs[r.ID] = *r.Job
		}
	case opDelJob:
		delete(s.mem.jobs, r.ID)
	case opPutWorkflow:
		s.mem.workflows[r.ID] = r.Workflow
	case opDelWorkflow:
		delete(s.mem.workflows, r.ID)
	case opSeeded:
		s.mem.seeded[r.ID] = struct{}{}
	}
}

// record appends r to the journal and then applies it to memory, so memory
// never runs ahead of disk.
func (s *fileStore) record(r journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("file store closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.mem.mu.Lock()
	s.apply(r)
	s.mem.mu.Unlock()

	s.writes++
	if s.writes >= s.compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	jobs, _ := s.mem.ListJobs(context.Background())
	wfs, _ := s.mem.ListWorkflows(context.Background())
	b, err := json.Marshal(snapshot{Jobs: jobs, Workflows: wfs, Seeded: s.mem.seededIDs()})
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, 2); err != nil {
		return err
	}
	s.writes = 0
	return nil
}

func (s *fileStore) UpsertJob(_ context.Context, j Job) error {
	if err := requireID("job", j.ID); err != nil {
		return err
	}
	c := j.Clone()
	return s.record(journalRecord{Op: opPutJob, ID: j.ID, Job: &c})
}

func (s *fileStore) RemoveJob(ctx context.Context, id string) error {
	if _, err := s.mem.GetJob(ctx, id); err != nil {
		return err
	}
	return s.record(journalRecord{Op: opDelJob, ID: id})
}

func (s *fileStore) GetJob(ctx context.Context, id string) (Job, error) {
	return s.mem.GetJob(ctx, id)
}

func (s *fileStore) ListJobs(ctx context.Context) ([]Job, error) {
	return s.mem.ListJobs(ctx)
}

func (s *fileStore) PutWorkflow(_ context.Context, w Workflow) error {
	if err := requireID("workflow", w.ID); err != nil {
		return err
	}
	return s.record(journalRecord{Op: opPutWorkflow, ID: w.ID, Workflow: append(json.RawMessage(nil), w.Data...)})
}

func (s *fileStore) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	return s.mem.GetWorkflow(ctx, id)
}

func (s *fileStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	return s.mem.ListWorkflows(ctx)
}

func (s *fileStore) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := s.mem.GetWorkflow(ctx, id); err != nil {
		return err
	}
	return s.record(journalRecord{Op: opDelWorkflow, ID: id})
}

func (s *fileStore) MarkSeeded(ctx context.Context, id string) error {
	if err := requireID("seed", id); err != nil {
		return err
	}
	if ok, _ := s.mem.Seeded(ctx, id); ok {
		return nil
	}
	return s.record(journalRecord{Op: opSeeded, ID: id})
}

func (s *fileStore) Seeded(ctx context.Context, id string) (bool, error) {
	return s.mem.Seeded(ctx, id)
}

// Close compacts the journal into a fresh snapshot and closes the file.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	var err error
	if s.writes > 0 {
		err = s.compactLocked()
	}
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}
