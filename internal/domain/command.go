package domain

import "time"

// CommandKind - имя команды, ключ в реестре обработчиков.
type CommandKind string

const (
	CommandClaim    CommandKind = "claim"
	CommandValidate CommandKind = "validate"
	CommandRelease  CommandKind = "release"
)

// Command - запрос на изменение состояния. Не персистится.
type Command interface {
	ConstraintID() string
	IssuedAt() time.Time
	Kind() CommandKind
}

type ClaimConstraint struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (c ClaimConstraint) ConstraintID() string { return c.ID }
func (c ClaimConstraint) IssuedAt() time.Time  { return c.Timestamp }
func (c ClaimConstraint) Kind() CommandKind    { return CommandClaim }

type ValidateConstraint struct {
	ID        string
	Timestamp time.Time
}

func (c ValidateConstraint) ConstraintID() string { return c.ID }
func (c ValidateConstraint) IssuedAt() time.Time  { return c.Timestamp }
func (c ValidateConstraint) Kind() CommandKind    { return CommandValidate }

type ReleaseConstraint struct {
	ID        string
	Timestamp time.Time
}

func (c ReleaseConstraint) ConstraintID() string { return c.ID }
func (c ReleaseConstraint) IssuedAt() time.Time  { return c.Timestamp }
func (c ReleaseConstraint) Kind() CommandKind    { return CommandRelease }
