package capture

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

// Defaults for workflow extraction. The skills pipeline uses 300/50 instead.
const (
	DefaultSegmentGapSeconds = 30
	DefaultSegmentMaxRecords = 100
)

// Segment is a time/app/size-bounded slice of the capture stream.
type Segment struct {
	AppName   string
	Steps     []workflow.ActionStep
	Captures  []*Record
	StartTime string
	EndTime   string
	SessionID string
}

// Segmenter groups ordered records under three split conditions, checked in
// order once at least one record is buffered: a temporal gap of gapSeconds or
// more, an app change, or the buffer reaching maxRecords.
type Segmenter struct {
	gapSeconds float64
	maxRecords int

	buf        []*Record
	currentApp string
	lastTS     time.Time
	hasLastTS  bool
}

func NewSegmenter(gapSeconds float64, maxRecords int) *Segmenter {
	if gapSeconds <= 0 {
		gapSeconds = DefaultSegmentGapSeconds
	}
	if maxRecords <= 0 {
		maxRecords = DefaultSegmentMaxRecords
	}
	return &Segmenter{gapSeconds: gapSeconds, maxRecords: maxRecords}
}

// Add buffers rec, first emitting the completed segment when a split
// condition fires. Records whose timestamps do not parse never satisfy the
// gap condition.
func (s *Segmenter) Add(rec *Record) *Segment {
	ts, tsOK := ParseTimestamp(rec.Timestamp)

	var done *Segment
	if len(s.buf) > 0 {
		split := false
		if tsOK && s.hasLastTS && ts.Sub(s.lastTS).Seconds() >= s.gapSeconds {
			split = true
		}
		if rec.App.Name != s.currentApp {
			split = true
		}
		if len(s.buf) >= s.maxRecords {
			split = true
		}
		if split {
			done = s.emit()
		}
	}

	s.buf = append(s.buf, rec)
	s.currentApp = rec.App.Name
	if tsOK {
		s.lastTS = ts
		s.hasLastTS = true
	}
	return done
}

// Flush emits whatever remains buffered, or nil.
func (s *Segmenter) Flush() *Segment {
	if len(s.buf) == 0 {
		return nil
	}
	return s.emit()
}

// SegmentAll sorts records by timestamp and splits them into segments,
// flushing the tail.
func (s *Segmenter) SegmentAll(records []*Record) []*Segment {
	sorted := make([]*Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var out []*Segment
	for _, rec := range sorted {
		if seg := s.Add(rec); seg != nil {
			out = append(out, seg)
		}
	}
	if seg := s.Flush(); seg != nil {
		out = append(out, seg)
	}
	return out
}

func (s *Segmenter) emit() *Segment {
	seg := buildSegment(s.buf, s.currentApp)
	s.buf = nil
	s.currentApp = ""
	s.hasLastTS = false
	return seg
}

func buildSegment(records []*Record, appName string) *Segment {
	steps := make([]workflow.ActionStep, len(records))
	for i, r := range records {
		steps[i] = r.ToActionStep()
	}
	sessionID := records[0].Session.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Segment{
		AppName:   appName,
		Steps:     steps,
		Captures:  records,
		StartTime: records[0].Timestamp,
		EndTime:   records[len(records)-1].Timestamp,
		SessionID: sessionID,
	}
}
