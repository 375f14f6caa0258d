/*
Package feedback defines the feedback event exchanged between the fault
pipeline, the operator review session and the retraining corpus.

Events are produced upstream as JSON objects:

	{
	  "fault_id": "F1",
	  "anomaly_type": "power_fault",
	  "recovery_action": "switch_to_backup",
	  "mission_phase": "NOMINAL_OPS",
	  "timestamp": "2026-01-02T15:04:05Z"
	}

Review adds "label" (correct, insufficient or wrong) and, optionally,
"operator_notes". Store membership encodes review status: pending events
carry no label, processed events always do.
*/
package feedback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is one detected fault and the automated response to it.
type Event struct {
	// FaultID is assigned upstream and unique per event.
	FaultID string `json:"fault_id" yaml:"fault_id"`

	// AnomalyType is the detected condition class.
	AnomalyType string `json:"anomaly_type" yaml:"anomaly_type"`

	// RecoveryAction is the automated response that was taken.
	RecoveryAction string `json:"recovery_action" yaml:"recovery_action"`

	// MissionPhase is a contextual tag.
	MissionPhase string `json:"mission_phase" yaml:"mission_phase"`

	// Timestamp is when the fault occurred.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Label is empty while the event is pending.
	Label Label `json:"label,omitempty" yaml:"label,omitempty"`

	// OperatorNotes is empty when the operator gave none.
	OperatorNotes string `json:"operator_notes,omitempty" yaml:"operator_notes,omitempty"`
}

// Field names of the serialized form.
const (
	FieldFaultID        = "fault_id"
	FieldAnomalyType    = "anomaly_type"
	FieldRecoveryAction = "recovery_action"
	FieldMissionPhase   = "mission_phase"
	FieldTimestamp      = "timestamp"
	FieldLabel          = "label"
	FieldOperatorNotes  = "operator_notes"
)

// Timestamps must serialize as four-digit RFC 3339 years.
var (
	minTimestamp = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

// naiveLayouts are zone-less ISO 8601 forms written by Python's
// datetime.isoformat(); they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FromMap parses an untyped mapping into a validated Event.
func FromMap(m map[string]any) (Event, error) {
	if m == nil {
		return Event{}, &ValidationError{Field: "event", Reason: "must be an object"}
	}

	var e Event
	var err error
	if e.FaultID, err = requiredString(m, FieldFaultID); err != nil {
		return Event{}, err
	}
	if e.AnomalyType, err = requiredString(m, FieldAnomalyType); err != nil {
		return Event{}, err
	}
	if e.RecoveryAction, err = requiredString(m, FieldRecoveryAction); err != nil {
		return Event{}, err
	}
	if e.MissionPhase, err = requiredString(m, FieldMissionPhase); err != nil {
		return Event{}, err
	}

	raw, ok := m[FieldTimestamp]
	if !ok || raw == nil {
		return Event{}, missing(FieldTimestamp)
	}
	if e.Timestamp, err = parseTimestamp(raw); err != nil {
		return Event{}, err
	}

	if v, ok := m[FieldLabel]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return Event{}, &ValidationError{Field: FieldLabel, Reason: "must be a string", Value: v}
		}
		if e.Label, err = ParseLabel(s); err != nil {
			return Event{}, err
		}
	}

	if v, ok := m[FieldOperatorNotes]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return Event{}, &ValidationError{Field: FieldOperatorNotes, Reason: "must be a string", Value: v}
		}
		e.OperatorNotes = strings.TrimSpace(s)
	}

	return e, nil
}

// ToMap serializes the event. Unset optional fields are omitted.
func (e Event) ToMap() map[string]any {
	m := map[string]any{
		FieldFaultID:        e.FaultID,
		FieldAnomalyType:    e.AnomalyType,
		FieldRecoveryAction: e.RecoveryAction,
		FieldMissionPhase:   e.MissionPhase,
		FieldTimestamp:      e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Label != "" {
		m[FieldLabel] = string(e.Label)
	}
	if strings.TrimSpace(e.OperatorNotes) != "" {
		m[FieldOperatorNotes] = e.OperatorNotes
	}
	return m
}

// MarshalJSON encodes through ToMap so every codec shares one shape.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalJSON decodes through FromMap so every codec shares one validation.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return &ValidationError{Field: "event", Reason: "must be a JSON object", Value: err.Error()}
	}

	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Validate checks the required fields and, when present, the label and notes.
func (e Event) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{FieldFaultID, e.FaultID},
		{FieldAnomalyType, e.AnomalyType},
		{FieldRecoveryAction, e.RecoveryAction},
		{FieldMissionPhase, e.MissionPhase},
	} {
		if strings.TrimSpace(f.value) == "" {
			return missing(f.name)
		}
	}
	if e.Timestamp.IsZero() {
		return missing(FieldTimestamp)
	}
	if _, err := checkYear(e.Timestamp); err != nil {
		return err
	}
	if e.Label != "" && !e.Label.Valid() {
		return &ValidationError{Field: FieldLabel, Reason: "must be one of " + labelList(), Value: string(e.Label)}
	}
	if e.OperatorNotes != "" && strings.TrimSpace(e.OperatorNotes) == "" {
		return &ValidationError{Field: FieldOperatorNotes, Reason: "must not be blank"}
	}
	return nil
}

// Labeled reports whether the operator has judged the event.
func (e Event) Labeled() bool {
	return e.Label != ""
}

// Review returns a labeled copy of the event. Blank notes mean no notes.
// An event is labeled once; reviewing a labeled event fails.
func (e Event) Review(label Label, notes string) (Event, error) {
	if e.Labeled() {
		return Event{}, &ValidationError{Field: FieldLabel, Reason: "is already set", Value: string(e.Label)}
	}
	l, err := ParseLabel(string(label))
	if err != nil {
		return Event{}, err
	}
	e.Label = l
	e.OperatorNotes = strings.TrimSpace(notes)
	return e, nil
}

// Equal compares events field by field, timestamps as instants.
func (e Event) Equal(o Event) bool {
	return e.FaultID == o.FaultID &&
		e.AnomalyType == o.AnomalyType &&
		e.RecoveryAction == o.RecoveryAction &&
		e.MissionPhase == o.MissionPhase &&
		e.Timestamp.Equal(o.Timestamp) &&
		e.Label == o.Label &&
		e.OperatorNotes == o.OperatorNotes
}

// ValidatePending checks that e may sit in the pending store.
func ValidatePending(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Labeled() {
		return &ValidationError{Field: FieldLabel, Reason: "must be unset on a pending event", Value: string(e.Label)}
	}
	return nil
}

// ValidateProcessed checks that e may sit in the processed store.
func ValidateProcessed(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !e.Labeled() {
		return &ValidationError{Field: FieldLabel, Reason: "is required on a processed event"}
	}
	return nil
}

func requiredString(m map[string]any, field string) (string, error) {
	v, ok := m[field]
	if !ok || v == nil {
		return "", missing(field)
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: field, Reason: "must be a string", Value: v}
	}
	if strings.TrimSpace(s) == "" {
		return "", &ValidationError{Field: field, Reason: "must not be blank"}
	}
	return s, nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		return parseTimestampString(t)
	case time.Time:
		if t.IsZero() {
			return time.Time{}, missing(FieldTimestamp)
		}
		return checkYear(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return unixSeconds(i)
		}
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, &ValidationError{Field: FieldTimestamp, Reason: "is not a number", Value: t.String()}
		}
		return unixFloat(f)
	case float64:
		return unixFloat(t)
	case int:
		return unixSeconds(int64(t))
	case int64:
		return unixSeconds(t)
	}
	return time.Time{}, &ValidationError{Field: FieldTimestamp, Reason: "must be a string or number", Value: v}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return checkYear(ts)
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &ValidationError{Field: FieldTimestamp, Reason: "is not an ISO 8601 time", Value: s}
}

func unixFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, &ValidationError{Field: FieldTimestamp, Reason: "is not finite", Value: strconv.FormatFloat(f, 'g', -1, 64)}
	}
	if f < float64(minTimestamp.Unix()) || f > float64(maxTimestamp.Unix()+1) {
		return time.Time{}, outOfRange(strconv.FormatFloat(f, 'f', -1, 64))
	}
	sec, frac := math.Modf(f)
	return checkYear(time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC())
}

func unixSeconds(sec int64) (time.Time, error) {
	if sec < minTimestamp.Unix() || sec > maxTimestamp.Unix() {
		return time.Time{}, outOfRange(strconv.FormatInt(sec, 10))
	}
	return time.Unix(sec, 0).UTC(), nil
}

// checkYear rejects instants whose RFC 3339 form would not parse back.
func checkYear(t time.Time) (time.Time, error) {
	if y := t.Year(); y < 0 || y > 9999 {
		return time.Time{}, outOfRange(strconv.Itoa(y))
	}
	return t, nil
}

func outOfRange(v string) error {
	return &ValidationError{Field: FieldTimestamp, Reason: "must fall in years 0000 to 9999", Value: v}
}

func (e Event) String() string {
	return fmt.Sprintf("%s (%s/%s)", e.FaultID, e.AnomalyType, e.RecoveryAction)
}
