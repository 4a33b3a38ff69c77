package rules

import (
	"strconv"
	"strings"

	"github.com/roach88/kinrule/internal/ir"
)

// IdentifierAssigner writes prefix + zero-padded record number into an empty
// identifier field after a record was saved.
type IdentifierAssigner struct {
	base
	width  int
	prefix string
}

// NewIdentifierAssigner builds an IdentifierAssigner. cfg.Kind must be
// KindIdentifier.
func NewIdentifierAssigner(cfg Config) (*IdentifierAssigner, error) {
	cfg.Kind = KindIdentifier
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &IdentifierAssigner{
		base:   newBase(cfg),
		width:  cfg.PaddingWidth,
		prefix: cfg.IDPrefix,
	}, nil
}

// Kind implements Rule.
func (a *IdentifierAssigner) Kind() Kind { return KindIdentifier }

// Triggers implements Rule. The record number only exists once the record is
// saved, so the identifier is assigned on the success events.
func (a *IdentifierAssigner) Triggers() []ir.Event {
	return []ir.Event{ir.On(ir.CreateSubmitSuccess), ir.On(ir.EditSubmitSuccess)}
}

// FormatID left-pads the decimal record number with '0' to the configured
// width and prepends the prefix. Numbers wider than the width are not cut.
func (a *IdentifierAssigner) FormatID(number int64) string {
	digits := strconv.FormatInt(number, 10)
	if pad := a.width - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return a.prefix + digits
}

// Assign returns the update that sets the identifier, or false when nothing
// is to be sent: target absent, identifier already present, or the record
// is not addressable.
func (a *IdentifierAssigner) Assign(env ir.Envelope) (ir.RemoteUpdate, bool) {
	upd, skip := a.assign(env)
	return upd, skip == ""
}

func (a *IdentifierAssigner) assign(env ir.Envelope) (ir.RemoteUpdate, string) {
	current, ok := env.Record.Get(a.target)
	if !ok {
		return ir.RemoteUpdate{}, SkipTargetAbsent
	}
	if current != nil && !current.IsEmpty() {
		return ir.RemoteUpdate{}, SkipIdentifierSet
	}
	if env.RecordNumber <= 0 {
		return ir.RemoteUpdate{}, SkipNoRecordNumber
	}
	if env.AppID == "" || env.RecordID == "" {
		return ir.RemoteUpdate{}, SkipNoRecordAddress
	}

	return ir.RemoteUpdate{
		AppID:    env.AppID,
		RecordID: env.RecordID,
		Fields:   ir.Record{a.target: ir.Scalar(a.FormatID(env.RecordNumber))},
	}, ""
}

// Evaluate implements Rule.
func (a *IdentifierAssigner) Evaluate(env ir.Envelope) Effect {
	upd, skip := a.assign(env)
	if skip != "" {
		return Effect{Skip: skip}
	}
	return Effect{Update: &upd}
}
