package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// FeedbackStore is an append-only file-per-feedback store.
type FeedbackStore struct {
	dir string
	log zerolog.Logger
}

// NewFeedbackStore opens (creating if needed) the feedback directory.
func NewFeedbackStore(dir string) (*FeedbackStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feedback directory: %w", err)
	}
	return &FeedbackStore{
		dir: dir,
		log: logger.Component("feedback-store"),
	}, nil
}

// Record writes the feedback to {feedback_id}.json and returns the path.
func (s *FeedbackStore) Record(fb *workflow.ExecutionFeedback) (string, error) {
	if fb.FeedbackID == "" {
		return "", fmt.Errorf("feedback id is empty")
	}
	path := filepath.Join(s.dir, fb.FeedbackID+".json")
	if err := AtomicWriteJSON(path, fb); err != nil {
		return "", err
	}
	s.log.Info().
		Str("feedback_id", fb.FeedbackID).
		Bool("success", fb.Success).
		Msg("feedback recorded")
	return path, nil
}

// GetByWorkflow returns the feedbacks for one workflow, newest first.
func (s *FeedbackStore) GetByWorkflow(workflowID string) []*workflow.ExecutionFeedback {
	var out []*workflow.ExecutionFeedback
	for _, fb := range s.readAll() {
		if fb.WorkflowID == workflowID {
			out = append(out, fb)
		}
	}
	sortByTimestampDesc(out)
	return out
}

// GetSuccessRate returns the share of successful executions in [0,1], or 0.0
// when the workflow has no feedback at all.
func (s *FeedbackStore) GetSuccessRate(workflowID string) float64 {
	feedbacks := s.GetByWorkflow(workflowID)
	if len(feedbacks) == 0 {
		return 0.0
	}
	succeeded := 0
	for _, fb := range feedbacks {
		if fb.Success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(feedbacks))
}

// GetStepFailureRates returns, per step index, the fraction of the workflow's
// feedbacks that list the index as failed. Empty map when no feedback exists.
func (s *FeedbackStore) GetStepFailureRates(workflowID string) map[int]float64 {
	feedbacks := s.GetByWorkflow(workflowID)
	if len(feedbacks) == 0 {
		return map[int]float64{}
	}
	counts := make(map[int]int)
	for _, fb := range feedbacks {
		for _, idx := range fb.FailedStepIndices {
			counts[idx]++
		}
	}
	rates := make(map[int]float64, len(counts))
	total := float64(len(feedbacks))
	for idx, c := range counts {
		rates[idx] = float64(c) / total
	}
	return rates
}

// ListAll returns every feedback, newest first.
func (s *FeedbackStore) ListAll() []*workflow.ExecutionFeedback {
	out := s.readAll()
	sortByTimestampDesc(out)
	return out
}

// Count returns the number of recorded feedbacks.
func (s *FeedbackStore) Count() int {
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

func (s *FeedbackStore) readAll() []*workflow.ExecutionFeedback {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error().Err(err).Str("dir", s.dir).Msg("feedback directory unreadable")
		return nil
	}
	var out []*workflow.ExecutionFeedback
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("feedback skipped")
			continue
		}
		var fb workflow.ExecutionFeedback
		if err := json.Unmarshal(data, &fb); err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("feedback skipped")
			continue
		}
		out = append(out, &fb)
	}
	return out
}

// ISO-8601 timestamps order lexicographically, so string comparison is the
// chronological order.
func sortByTimestampDesc(feedbacks []*workflow.ExecutionFeedback) {
	sort.SliceStable(feedbacks, func(i, j int) bool {
		return feedbacks[i].Timestamp > feedbacks[j].Timestamp
	})
}
