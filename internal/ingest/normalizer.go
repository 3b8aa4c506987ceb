// Package ingest turns raw producer JSON into canonical log entries.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/logharbor/logharbor/internal/model"
)

// DefaultMaxBatch caps how many entries one batch submission may carry.
const DefaultMaxBatch = 100

// ErrBatchTooLarge rejects an oversized batch before any entry is looked at.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// Normalizer validates raw JSON and fills in defaults: generated ids,
// ingestion-time timestamps, sentinel project and module names, and
// mapping-shaped details/context. Safe for concurrent use.
type Normalizer struct {
	maxBatch int
	now      func() time.Time
	newID    func() string
	parsers  fastjson.ParserPool
}

func NewNormalizer(maxBatch int, now func() time.Time) *Normalizer {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{maxBatch: maxBatch, now: now, newID: uuid.NewString}
}

// One normalizes a single JSON object into an entry.
func (n *Normalizer) One(body []byte) (*model.Entry, error) {
	p := n.parsers.Get()
	defer n.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, &model.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	e, verr := n.normalize(v, 0)
	if verr != nil {
		return nil, verr
	}
	return e, nil
}

// Batch normalizes a JSON array. Each element is judged on its own:
// valid ones come back as entries, invalid ones as failures carrying the
// element's index. Only a body that is not an array, or a batch over the
// size cap, fails as a whole.
func (n *Normalizer) Batch(body []byte) ([]model.Entry, []model.ValidationError, error) {
	p := n.parsers.Get()
	defer n.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, nil, &model.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	arr, err := v.Array()
	if err != nil {
		return nil, nil, &model.ValidationError{Field: "body", Reason: "expected a JSON array of entries"}
	}
	if len(arr) > n.maxBatch {
		return nil, nil, fmt.Errorf("%w: %d entries, limit %d", ErrBatchTooLarge, len(arr), n.maxBatch)
	}

	var entries []model.Entry
	var failures []model.ValidationError
	for i, item := range arr {
		e, verr := n.normalize(item, i)
		if verr != nil {
			failures = append(failures, *verr)
			continue
		}
		entries = append(entries, *e)
	}
	return entries, failures, nil
}

func (n *Normalizer) normalize(v *fastjson.Value, index int) (*model.Entry, *model.ValidationError) {
	if v.Type() != fastjson.TypeObject {
		return nil, &model.ValidationError{Index: index, Field: "body", Reason: "expected a JSON object"}
	}

	msg := strings.TrimSpace(string(v.GetStringBytes("message")))
	if msg == "" {
		return nil, &model.ValidationError{Index: index, Field: "message", Reason: "must be a non-empty string"}
	}

	rawLevel := strings.TrimSpace(string(v.GetStringBytes("level")))
	level, ok := model.ParseLevel(rawLevel)
	if !ok {
		reason := "must be one of debug, info, warning, error, critical"
		if rawLevel != "" {
			reason = fmt.Sprintf("%q is not one of debug, info, warning, error, critical", rawLevel)
		}
		return nil, &model.ValidationError{Index: index, Field: "level", Reason: reason}
	}

	ts, verr := n.timestamp(v.Get("timestamp"), index)
	if verr != nil {
		return nil, verr
	}

	id := string(v.GetStringBytes("id"))
	if id == "" {
		id = n.newID()
	}

	project := strings.TrimSpace(string(v.GetStringBytes("project")))
	if project == "" {
		project = model.DefaultProject
	}
	module := strings.TrimSpace(string(v.GetStringBytes("module")))
	if module == "" {
		module = model.DefaultModule
	}

	return &model.Entry{
		ID:        id,
		Timestamp: ts,
		Project:   project,
		Module:    module,
		Level:     level,
		Message:   msg,
		Details:   model.NormalizeMapping(valueOf(v.Get("details"))),
		Context:   model.NormalizeMapping(valueOf(v.Get("context"))),
	}, nil
}

// timestamp resolves the producer-supplied timestamp. Absent, null, or
// zero means ingestion time. Strings are RFC3339 or a bare local datetime
// (Python producers send isoformat() without a zone, read as UTC); bare
// numbers are epoch seconds, milliseconds, or nanoseconds by magnitude.
func (n *Normalizer) timestamp(v *fastjson.Value, index int) (time.Time, *model.ValidationError) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return n.now().UTC(), nil
	}
	switch v.Type() {
	case fastjson.TypeString:
		raw := strings.TrimSpace(string(v.GetStringBytes()))
		if raw == "" {
			return n.now().UTC(), nil
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
			return t.UTC(), nil
		}
		return time.Time{}, &model.ValidationError{
			Index:  index,
			Field:  "timestamp",
			Reason: fmt.Sprintf("%q is not a recognized time format", raw),
		}
	case fastjson.TypeNumber:
		return epochTime(v, n.now), nil
	}
	return time.Time{}, &model.ValidationError{
		Index:  index,
		Field:  "timestamp",
		Reason: "must be an RFC3339 string or an epoch number",
	}
}

// epochTime maps a bare number onto the epoch: seconds, milliseconds, or
// nanoseconds by magnitude. Integers go through Int64 so nanosecond values
// beyond float64 precision stay exact; fractional numbers are seconds.
func epochTime(v *fastjson.Value, now func() time.Time) time.Time {
	if i, err := v.Int64(); err == nil {
		if i == 0 {
			return now().UTC()
		}
		switch a := abs64(i); {
		case a < 1e11:
			return time.Unix(i, 0).UTC()
		case a < 1e14:
			return time.UnixMilli(i).UTC()
		default:
			return time.Unix(0, i).UTC()
		}
	}
	f := v.GetFloat64()
	if f == 0 {
		return now().UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func abs64(i int64) int64 {
	if i < 0 {
		return -i
	}
	return i
}

// valueOf converts a parsed fastjson value into the model representation,
// preserving nested shapes and explicit nulls at any depth.
func valueOf(v *fastjson.Value) model.Value {
	if v == nil {
		return model.Null()
	}
	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		m := make(map[string]model.Value, obj.Len())
		obj.Visit(func(key []byte, item *fastjson.Value) {
			m[string(key)] = valueOf(item)
		})
		return model.Mapping(m)
	case fastjson.TypeArray:
		arr, _ := v.Array()
		seq := make([]model.Value, len(arr))
		for i, item := range arr {
			seq[i] = valueOf(item)
		}
		return model.Sequence(seq...)
	case fastjson.TypeString:
		return model.String(string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		return model.Number(v.GetFloat64())
	case fastjson.TypeTrue:
		return model.Bool(true)
	case fastjson.TypeFalse:
		return model.Bool(false)
	}
	return model.Null()
}
