package grpc

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/cockroachdb/errors"
	gogoproto "github.com/gogo/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/timer"
)

const (
	serviceName    = "microtimer.Timer"
	sleepMethod    = "/" + serviceName + "/Sleep"
	intervalMethod = "/" + serviceName + "/Interval"
	cancelMethod   = "/" + serviceName + "/Cancel"
)

const (
	kindAccepted = "accepted"
	kindRejected = "rejected"
)

const (
	fieldKind     = "kind"
	fieldDelayNs  = "delay_ns"
	fieldPeriodNs = "period_ns"
	fieldRepeat   = "repeat"
	fieldID       = "id"
	fieldCaller   = "caller"
	fieldSeq      = "seq"
	fieldError    = "error"
)

var ErrMalformedMessage = errors.New("malformed timer message")

// Nanosecond counts, repeat limits and sequence numbers travel as decimal
// strings; Struct numbers are float64 and would lose precision.

func stringValue(s string) *structpb.Value {
	return structpb.NewStringValue(s)
}

func uintValue(v uint64) *structpb.Value {
	return structpb.NewStringValue(strconv.FormatUint(v, 10))
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func uintField(s *structpb.Struct, key string) (uint64, error) {
	raw := stringField(s, key)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedMessage, "field %s: %q", key, raw)
	}
	return v, nil
}

func int32Field(s *structpb.Struct, key string) (int32, error) {
	raw := stringField(s, key)
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedMessage, "field %s: %q", key, raw)
	}
	return int32(v), nil
}

func sleepRequest(delayNs uint64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldDelayNs: uintValue(delayNs),
	}}
}

func intervalRequest(periodNs uint64, repeat int32) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldPeriodNs: uintValue(periodNs),
		fieldRepeat:   stringValue(strconv.FormatInt(int64(repeat), 10)),
	}}
}

func cancelRequest(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID: stringValue(id),
	}}
}

func acceptedMessage(id string) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldKind: stringValue(kindAccepted),
	}
	if id != "" {
		fields[fieldID] = stringValue(id)
	}
	return &structpb.Struct{Fields: fields}
}

func rejectedMessage(ctx context.Context, err error) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKind:  stringValue(kindRejected),
		fieldError: stringValue(encodeError(ctx, err)),
	}}
}

func eventMessage(ev timer.Event) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKind:   stringValue(ev.Kind.String()),
		fieldCaller: stringValue(ev.Caller.String()),
		fieldID:     stringValue(ev.TimerID),
		fieldSeq:    uintValue(ev.Seq),
	}}
}

func parseEvent(s *structpb.Struct) (timer.Event, error) {
	kind, ok := timer.ParseEventKind(stringField(s, fieldKind))
	if !ok {
		return timer.Event{}, errors.Wrapf(ErrMalformedMessage, "unexpected kind %q", stringField(s, fieldKind))
	}
	var c caller.Handle
	if err := c.UnmarshalText([]byte(stringField(s, fieldCaller))); err != nil {
		return timer.Event{}, errors.Mark(err, ErrMalformedMessage)
	}
	seq, err := uintField(s, fieldSeq)
	if err != nil {
		return timer.Event{}, err
	}
	return timer.Event{
		Caller:  c,
		Kind:    kind,
		TimerID: stringField(s, fieldID),
		Seq:     seq,
	}, nil
}

// parseAck reads the first message of a stream. A rejected request yields
// the decoded server error.
func parseAck(ctx context.Context, s *structpb.Struct) (string, error) {
	switch stringField(s, fieldKind) {
	case kindAccepted:
		return stringField(s, fieldID), nil
	case kindRejected:
		return "", decodeError(ctx, stringField(s, fieldError))
	default:
		return "", errors.Wrapf(ErrMalformedMessage, "expected acknowledgement, got %q", stringField(s, fieldKind))
	}
}

func encodeError(ctx context.Context, err error) string {
	encodedErr := errors.EncodeError(ctx, err)
	data, errMarshal := gogoproto.Marshal(&encodedErr)
	if errMarshal != nil {
		panic(errMarshal)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodeError(ctx context.Context, s string) error {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return errors.Wrap(ErrMalformedMessage, "error payload is not base64")
	}
	var encodedErr errors.EncodedError
	if err := gogoproto.Unmarshal(data, &encodedErr); err != nil {
		return errors.Wrap(ErrMalformedMessage, "error payload")
	}
	return errors.DecodeError(ctx, encodedErr)
}
