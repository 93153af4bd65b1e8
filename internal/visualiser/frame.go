package visualiser

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

// Frame is one classified reading as streamed to remote viewers.
type Frame struct {
	Seq           uint64
	Time          time.Time
	SessionID     string
	Label         string
	Index         int
	Confidence    float64
	Rejected      bool
	Probabilities []float64
	Reading       l2frames.Reading
}

// FrameFromEvent converts a session event.
func FrameFromEvent(ev session.Event) Frame {
	return Frame{
		Seq:           ev.Seq,
		Time:          ev.Time,
		SessionID:     ev.SessionID.String(),
		Label:         ev.Result.Label,
		Index:         ev.Result.Index,
		Confidence:    ev.Result.Confidence,
		Rejected:      ev.Result.Rejected,
		Probabilities: append([]float64(nil), ev.Result.Probabilities...),
		Reading:       ev.Reading,
	}
}

// ToStruct encodes f as the wire message. Numbers travel as doubles, which
// is exact for sequence numbers below 2^53 and for 12-bit sensor values. The
// timestamp is split into whole seconds and nanoseconds so neither part
// exceeds 2^53.
func (f Frame) ToStruct() (*structpb.Struct, error) {
	probs := make([]interface{}, len(f.Probabilities))
	for i, p := range f.Probabilities {
		probs[i] = p
	}
	values := make([]interface{}, l2frames.Size)
	for i, v := range f.Reading {
		values[i] = float64(v)
	}
	return structpb.NewStruct(map[string]interface{}{
		"seq":           float64(f.Seq),
		"time_unix_s":   float64(f.Time.Unix()),
		"time_nanos":    float64(f.Time.Nanosecond()),
		"session_id":    f.SessionID,
		"label":         f.Label,
		"index":         float64(f.Index),
		"confidence":    f.Confidence,
		"rejected":      f.Rejected,
		"probabilities": probs,
		"values":        values,
	})
}

// FrameFromStruct decodes a wire message.
func FrameFromStruct(s *structpb.Struct) (Frame, error) {
	var f Frame
	if s == nil {
		return f, fmt.Errorf("nil frame message")
	}
	fields := s.GetFields()

	num := func(key string) (float64, error) {
		v, ok := fields[key]
		if !ok {
			return 0, fmt.Errorf("frame message missing %q", key)
		}
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return 0, fmt.Errorf("frame field %q is not a number", key)
		}
		return v.GetNumberValue(), nil
	}

	seq, err := num("seq")
	if err != nil {
		return f, err
	}
	secs, err := num("time_unix_s")
	if err != nil {
		return f, err
	}
	nanos, err := num("time_nanos")
	if err != nil {
		return f, err
	}
	idx, err := num("index")
	if err != nil {
		return f, err
	}
	conf, err := num("confidence")
	if err != nil {
		return f, err
	}

	f.Seq = uint64(seq)
	f.Time = time.Unix(int64(secs), int64(nanos))
	f.Index = int(idx)
	f.Confidence = conf
	f.SessionID = fields["session_id"].GetStringValue()
	f.Label = fields["label"].GetStringValue()
	f.Rejected = fields["rejected"].GetBoolValue()

	for _, p := range fields["probabilities"].GetListValue().GetValues() {
		f.Probabilities = append(f.Probabilities, p.GetNumberValue())
	}

	values := fields["values"].GetListValue().GetValues()
	if len(values) != l2frames.Size {
		return f, fmt.Errorf("%w: frame carries %d values", l2frames.ErrFieldCount, len(values))
	}
	for i, v := range values {
		f.Reading[i] = int(v.GetNumberValue())
	}
	return f, nil
}
