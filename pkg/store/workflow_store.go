// Package store persists workflows and execution feedback as JSON files
// under the agent state directory.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// WorkflowStore is a file-per-workflow store. Callers serialize writes to a
// given workflow; each write replaces the whole file atomically.
type WorkflowStore struct {
	dir string
	log zerolog.Logger
}

// NewWorkflowStore opens (creating if needed) the workflow directory.
func NewWorkflowStore(dir string) (*WorkflowStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow directory: %w", err)
	}
	return &WorkflowStore{
		dir: dir,
		log: logger.Component("workflow-store"),
	}, nil
}

// Dir returns the backing directory.
func (s *WorkflowStore) Dir() string { return s.dir }

// Save writes the workflow to {workflow_id}.json and returns the path.
func (s *WorkflowStore) Save(wf *workflow.Workflow) (string, error) {
	if wf.WorkflowID == "" {
		return "", fmt.Errorf("workflow id is empty")
	}
	path := filepath.Join(s.dir, wf.WorkflowID+".json")
	if err := AtomicWriteJSON(path, wf); err != nil {
		return "", err
	}
	s.log.Info().
		Str("workflow_id", wf.WorkflowID).
		Str("name", wf.Name).
		Msg("workflow saved")
	return path, nil
}

// Get loads one workflow. A missing id yields (nil, nil).
func (s *WorkflowStore) Get(workflowID string) (*workflow.Workflow, error) {
	path := filepath.Join(s.dir, workflowID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow %s: %w", workflowID, err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		s.log.Error().Err(err).Str("workflow_id", workflowID).Msg("workflow load failed")
		return nil, fmt.Errorf("decode workflow %s: %w", workflowID, err)
	}
	return &wf, nil
}

// ListAll returns every readable workflow sorted by confidence descending.
// Unreadable files are logged and skipped.
func (s *WorkflowStore) ListAll() []*workflow.Workflow {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error().Err(err).Str("dir", s.dir).Msg("workflow directory unreadable")
		return nil
	}
	var out []*workflow.Workflow
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("workflow skipped")
			continue
		}
		var wf workflow.Workflow
		if err := json.Unmarshal(data, &wf); err != nil || wf.WorkflowID == "" {
			// recovery_patterns.json shares the directory; anything that is
			// not a workflow document is skipped.
			s.log.Debug().Str("file", e.Name()).Msg("non-workflow file skipped")
			continue
		}
		out = append(out, &wf)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Search returns non-deprecated workflows whose name, description, app name,
// or tags contain every whitespace-separated keyword of query, ranked by
// 3.0 + 2.0*success_rate + 0.3*ln(1+execution_count). The feedback store is
// optional; without it the success-rate term is zero.
func (s *WorkflowStore) Search(query string, feedback *FeedbackStore) []*workflow.Workflow {
	keywords := strings.Fields(strings.ToLower(query))

	type scored struct {
		score float64
		wf    *workflow.Workflow
	}
	var hits []scored
	for _, wf := range s.ListAll() {
		if wf.Status == workflow.StatusDeprecated {
			continue
		}
		parts := []string{wf.Name, wf.Description, wf.AppName}
		parts = append(parts, wf.Tags...)
		searchable := strings.ToLower(strings.Join(parts, " "))

		match := true
		for _, kw := range keywords {
			if !strings.Contains(searchable, kw) {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		rate := 0.0
		if feedback != nil {
			rate = feedback.GetSuccessRate(wf.WorkflowID)
		}
		score := 3.0 + 2.0*rate + 0.3*math.Log(float64(wf.ExecutionCount)+1)
		hits = append(hits, scored{score, wf})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	out := make([]*workflow.Workflow, len(hits))
	for i, h := range hits {
		out[i] = h.wf
	}
	return out
}

// Delete removes a workflow file. Returns whether it existed.
func (s *WorkflowStore) Delete(workflowID string) bool {
	path := filepath.Join(s.dir, workflowID+".json")
	if err := os.Remove(path); err != nil {
		return false
	}
	s.log.Info().Str("workflow_id", workflowID).Msg("workflow deleted")
	return true
}

// FindDuplicate returns a stored workflow with the same name
// (case-insensitive exact match), or nil.
func (s *WorkflowStore) FindDuplicate(name string) *workflow.Workflow {
	lower := strings.ToLower(name)
	for _, wf := range s.ListAll() {
		if strings.ToLower(wf.Name) == lower {
			return wf
		}
	}
	return nil
}

// Count returns the number of JSON files in the store directory.
func (s *WorkflowStore) Count() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

// AtomicWriteJSON writes v as two-space-indented UTF-8 JSON via a temp file
// and rename, so readers never observe a partial document.
func AtomicWriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
