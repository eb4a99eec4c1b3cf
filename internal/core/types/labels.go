package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ProblemType string

const (
	Binary     ProblemType = "binary"
	Multiclass ProblemType = "multiclass"
	Multilabel ProblemType = "multilabel"
)

func ParseProblemType(s string) (ProblemType, error) {
	switch p := ProblemType(s); p {
	case Binary, Multiclass, Multilabel:
		return p, nil
	default:
		return "", fmt.Errorf("invalid problem type: %s", s)
	}
}

// LabelMapping is the bijection between label names and the ids used by the
// model head. It is built once and never modified.
type LabelMapping struct {
	names []string
	ids   map[string]int
}

func NewLabelMapping(names []string) (LabelMapping, error) {
	ids := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := ids[name]; ok {
			return LabelMapping{}, fmt.Errorf("duplicate label '%s'", name)
		}
		ids[name] = i
	}
	return LabelMapping{names: append([]string(nil), names...), ids: ids}, nil
}

func (m LabelMapping) Len() int {
	return len(m.names)
}

func (m LabelMapping) Names() []string {
	return append([]string(nil), m.names...)
}

func (m LabelMapping) Label(id int) (string, bool) {
	if id < 0 || id >= len(m.names) {
		return "", false
	}
	return m.names[id], true
}

func (m LabelMapping) ID(label string) (int, bool) {
	id, ok := m.ids[label]
	return id, ok
}

// Label2ID and ID2Label use the string keyed layout of config.json files.
func (m LabelMapping) Label2ID() map[string]int {
	out := make(map[string]int, len(m.names))
	for i, name := range m.names {
		out[name] = i
	}
	return out
}

func (m LabelMapping) ID2Label() map[string]string {
	out := make(map[string]string, len(m.names))
	for i, name := range m.names {
		out[strconv.Itoa(i)] = name
	}
	return out
}

// LabelMappingFromID2Label rebuilds a mapping from a config.json id2label.
func LabelMappingFromID2Label(id2label map[string]string) (LabelMapping, error) {
	names := make([]string, len(id2label))
	for key, name := range id2label {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 || id >= len(names) {
			return LabelMapping{}, fmt.Errorf("invalid label id '%s'", key)
		}
		names[id] = name
	}
	return NewLabelMapping(names)
}

func (m LabelMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.names)
}

func (m *LabelMapping) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	mapping, err := NewLabelMapping(names)
	if err != nil {
		return err
	}
	*m = mapping
	return nil
}
