package risk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Notes is the structured payload attached to an override. Exactly one
// variant is set and it matches Type.
type Notes struct {
	Type    Status
	Concern *ConcernNotes
	NonRisk *NonRiskNotes
	Log     *LogNotes
}

type ConcernNotes struct {
	Scope   Scope    `json:"scope"`
	Targets []Target `json:"targets"`
	Comment string   `json:"comment,omitempty"`
}

type NonRiskNotes struct {
	Justification string   `json:"justification,omitempty"`
	Assumptions   []string `json:"assumptions,omitempty"`
}

// LogNotes belongs to ISSUE and RISK overrides. PMLogID is set once the
// matching PM Backend log row exists.
type LogNotes struct {
	Comment   string `json:"comment,omitempty"`
	PMLogKind string `json:"pm_log_kind,omitempty"`
	PMLogID   int64  `json:"pm_log_id,omitempty"`
}

var ErrInvalidNotes = errors.New("invalid notes")

type concernInput struct {
	Type    string   `json:"type"`
	Scope   string   `json:"scope"`
	Teams   []string `json:"teams"`
	Comment string   `json:"comment"`
}

type nonRiskInput struct {
	Type          string   `json:"type"`
	Justification string   `json:"justification"`
	Assumptions   []string `json:"assumptions"`
}

type logInput struct {
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

// BuildNotes validates the status-specific notes sent by the admin UI and
// returns the persisted form. raw may be a JSON object, a JSON string holding
// an object, or empty. Only CONCERN requires notes.
func BuildNotes(status Status, raw json.RawMessage) (*Notes, error) {
	payload, err := unwrapNotes(raw)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		if status == StatusConcern {
			return nil, fmt.Errorf("%w: concern notes require a scope", ErrInvalidNotes)
		}
		return nil, nil
	}

	switch status {
	case StatusConcern:
		var in concernInput
		if err := decodeNotes(payload, &in); err != nil {
			return nil, err
		}
		if err := checkType(status, in.Type); err != nil {
			return nil, err
		}
		scope, err := ParseScope(in.Scope)
		if err != nil {
			return nil, err
		}
		targets, err := ResolveTargets(scope, in.Teams)
		if err != nil {
			return nil, err
		}
		return &Notes{Type: status, Concern: &ConcernNotes{
			Scope:   scope,
			Targets: targets,
			Comment: strings.TrimSpace(in.Comment),
		}}, nil
	case StatusNonRisk:
		var in nonRiskInput
		if err := decodeNotes(payload, &in); err != nil {
			return nil, err
		}
		if err := checkType(status, in.Type); err != nil {
			return nil, err
		}
		assumptions := make([]string, 0, len(in.Assumptions))
		for _, assumption := range in.Assumptions {
			if trimmed := strings.TrimSpace(assumption); trimmed != "" {
				assumptions = append(assumptions, trimmed)
			}
		}
		return &Notes{Type: status, NonRisk: &NonRiskNotes{
			Justification: strings.TrimSpace(in.Justification),
			Assumptions:   assumptions,
		}}, nil
	case StatusIssue, StatusRisk:
		var in logInput
		if err := decodeNotes(payload, &in); err != nil {
			return nil, err
		}
		if err := checkType(status, in.Type); err != nil {
			return nil, err
		}
		return &Notes{Type: status, Log: &LogNotes{Comment: strings.TrimSpace(in.Comment)}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}

func unwrapNotes(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNotes, err)
		}
		return unwrapNotes(json.RawMessage(inner))
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: notes must be a JSON object", ErrInvalidNotes)
	}
	return trimmed, nil
}

func decodeNotes(payload []byte, target any) error {
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotes, err)
	}
	return nil
}

func checkType(status Status, declared string) error {
	if strings.TrimSpace(declared) == "" {
		return nil
	}
	parsed, err := ParseStatus(declared)
	if err != nil || parsed != status {
		return fmt.Errorf("%w: notes type %q does not match status %s", ErrInvalidNotes, declared, status)
	}
	return nil
}

func (n Notes) MarshalJSON() ([]byte, error) {
	var variant any
	switch {
	case n.Concern != nil:
		variant = n.Concern
	case n.NonRisk != nil:
		variant = n.NonRisk
	case n.Log != nil:
		variant = n.Log
	default:
		variant = struct{}{}
	}

	body, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, err := json.Marshal(n.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

func (n *Notes) UnmarshalJSON(data []byte) error {
	var head struct {
		Type Status `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*n = Notes{Type: head.Type}
	switch head.Type {
	case StatusConcern:
		n.Concern = &ConcernNotes{}
		return json.Unmarshal(data, n.Concern)
	case StatusNonRisk:
		n.NonRisk = &NonRiskNotes{}
		return json.Unmarshal(data, n.NonRisk)
	case StatusIssue, StatusRisk:
		n.Log = &LogNotes{}
		return json.Unmarshal(data, n.Log)
	default:
		return fmt.Errorf("%w: unknown notes type %q", ErrInvalidNotes, head.Type)
	}
}

// ParseStoredNotes decodes the override_notes column. Legacy rows without a
// type are read against the override status.
func ParseStoredNotes(status Status, raw string) (*Notes, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotes, err)
	}
	if _, ok := probe["type"]; !ok {
		typ, _ := json.Marshal(status)
		probe["type"] = typ
		patched, err := json.Marshal(probe)
		if err != nil {
			return nil, err
		}
		trimmed = string(patched)
	}
	var notes Notes
	if err := json.Unmarshal([]byte(trimmed), &notes); err != nil {
		return nil, err
	}
	return &notes, nil
}

// WithLogReference returns a copy of the notes for an ISSUE/RISK override
// pointing at the PM Backend row.
func WithLogReference(notes *Notes, status Status, kind string, id int64) *Notes {
	out := &Notes{Type: status, Log: &LogNotes{}}
	if notes != nil && notes.Log != nil {
		copied := *notes.Log
		out.Log = &copied
	}
	out.Log.PMLogKind = kind
	out.Log.PMLogID = id
	return out
}
