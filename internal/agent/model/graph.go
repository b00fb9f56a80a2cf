package model

import (
	"errors"
	"fmt"

	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/progress"
)

// Validity is the outcome of the domain-relevance check.
type Validity int

const (
	ValidityUnset Validity = iota
	ValidityValid
	ValidityInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "VALID"
	case ValidityInvalid:
		return "INVALID"
	default:
		return "UNSET"
	}
}

// RunInput starts one orchestration run.
type RunInput struct {
	RunID         string     `json:"run_id,omitempty"`
	Query         string     `json:"query"`
	UsersLocation *geo.Point `json:"location,omitempty"`
}

// State is the per-run conversation record threaded through the graph.
// Concurrency model (same contract as any eino local state):
//   - registered via compose.WithGenLocalState, one instance per Invoke;
//   - read and written only inside state handlers or compose.ProcessState,
//     which eino serializes;
//   - every write goes through Seed or Apply.
type State struct {
	RunID              string
	Query              string
	UsersLocation      *geo.Point
	IsValidQuery       Validity
	APIResults         []Record
	UseSearch          bool
	IsHighOccupancy    bool
	SearchResults      []Record
	StructuredResponse *StructuredResponse
	ErrorResponse      string
	Messages           []string

	seeded        bool
	searchWritten bool
	sink          progress.Sink
}

// NewState creates an empty state bound to sink. A nil sink discards events.
func NewState(sink progress.Sink) *State {
	if sink == nil {
		sink = progress.Discard
	}
	return &State{sink: sink}
}

// Update is the partial result of one step. Nil pointer fields are left
// untouched by Apply.
type Update struct {
	Step               string
	IsValidQuery       Validity
	APIResults         []Record
	UseSearch          *bool
	IsHighOccupancy    *bool
	SearchResults      []Record
	WroteSearch        bool
	StructuredResponse *StructuredResponse
	ErrorResponse      string
	Message            string
}

var (
	ErrAlreadySeeded    = errors.New("state already seeded")
	ErrEmptyQuery       = errors.New("query is empty")
	ErrValidityRewrite  = errors.New("is_valid_query already set")
	ErrSearchRewrite    = errors.New("search_results already written")
	ErrTerminalConflict = errors.New("structured_response and error_response are mutually exclusive")
)

// Seed sets the immutable entry fields. It may only run once.
func (s *State) Seed(in RunInput) error {
	if s.seeded {
		return ErrAlreadySeeded
	}
	if in.Query == "" {
		return ErrEmptyQuery
	}
	s.seeded = true
	s.RunID = in.RunID
	s.Query = in.Query
	if in.UsersLocation != nil {
		loc := *in.UsersLocation
		s.UsersLocation = &loc
	}
	return nil
}

// Apply merges u into the state field by field:
//   - is_valid_query, search_results, structured_response and
//     error_response are set-once;
//   - api_results and messages append;
//   - use_search and is_high_occupancy are last-write-wins.
func (s *State) Apply(u *Update) error {
	if u == nil {
		return nil
	}
	if u.IsValidQuery != ValidityUnset {
		if s.IsValidQuery != ValidityUnset {
			return ErrValidityRewrite
		}
		s.IsValidQuery = u.IsValidQuery
	}
	if len(u.APIResults) > 0 {
		s.APIResults = append(s.APIResults, u.APIResults...)
	}
	if u.UseSearch != nil {
		s.UseSearch = *u.UseSearch
	}
	if u.IsHighOccupancy != nil {
		s.IsHighOccupancy = *u.IsHighOccupancy
	}
	if u.WroteSearch {
		if s.searchWritten {
			return ErrSearchRewrite
		}
		s.searchWritten = true
		s.SearchResults = append([]Record(nil), u.SearchResults...)
	}
	if u.StructuredResponse != nil || u.ErrorResponse != "" {
		if s.StructuredResponse != nil || s.ErrorResponse != "" ||
			(u.StructuredResponse != nil && u.ErrorResponse != "") {
			return ErrTerminalConflict
		}
		s.StructuredResponse = u.StructuredResponse
		s.ErrorResponse = u.ErrorResponse
	}
	if u.Message != "" {
		s.Messages = append(s.Messages, u.Message)
	}
	return nil
}

// Emit forwards a step notification to the run's sink.
func (s *State) Emit(message string) {
	s.sink.Publish(progress.Update(message))
}

// Snapshot returns a copy safe to read outside state handlers.
func (s *State) Snapshot() State {
	c := *s
	c.APIResults = append([]Record(nil), s.APIResults...)
	c.SearchResults = append([]Record(nil), s.SearchResults...)
	c.Messages = append([]string(nil), s.Messages...)
	return c
}

// ShouldSearch is the decide_to_search predicate.
func (s *State) ShouldSearch() bool {
	return s.UseSearch || s.IsHighOccupancy
}

// Outcome is what a finished run hands back to the gateway.
type Outcome struct {
	StructuredResponse *StructuredResponse
	ErrorResponse      string
}

// OutcomeFrom extracts the terminal fields of u.
func OutcomeFrom(u *Update) (*Outcome, error) {
	if u == nil || (u.StructuredResponse == nil && u.ErrorResponse == "") {
		return nil, fmt.Errorf("run finished without a terminal response")
	}
	return &Outcome{StructuredResponse: u.StructuredResponse, ErrorResponse: u.ErrorResponse}, nil
}

// Bool returns a pointer to b for Update fields.
func Bool(b bool) *bool {
	return &b
}
