package drafts

import (
	"fmt"
	"slices"
)

// Stage is the lifecycle position of a pending content item.
type Stage string

const (
	Created    Stage = "created"
	Encrypting Stage = "encrypting"
	Uploading  Stage = "uploading"
	Uploaded   Stage = "uploaded"
	Attached   Stage = "attached"
	Posted     Stage = "posted"
	Failed     Stage = "failed"
)

// validTransitions defines allowed stage transitions. Uploading to Uploading
// is a restart of an in-flight upload.
var validTransitions = map[Stage][]Stage{
	Created:    {Encrypting, Failed},
	Encrypting: {Uploading, Uploaded, Failed},
	Uploading:  {Uploading, Uploaded, Failed},
	Uploaded:   {Attached, Posted},
	Attached:   {Attached, Posted},
	Posted:     {},
	Failed:     {Uploading},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Stage) bool {
	return slices.Contains(validTransitions[from], to)
}

func (p *Pending) transition(to Stage) error {
	if !CanTransition(p.Stage, to) {
		return fmt.Errorf("pending %s: invalid transition from %s to %s", p.ID, p.Stage, to)
	}
	p.Stage = to
	return nil
}

// ParseStage validates a stored stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}
