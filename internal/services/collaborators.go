package services

import (
	"context"
	"errors"
)

// Collaborator interfaces consumed by the action executor. The engine
// never reaches around these; everything the surrounding application
// observes flows through here.

// EntityMutator applies side effects to project entities. Each call is
// all-or-nothing; a failed call leaves the entity untouched.
type EntityMutator interface {
	ApplyUpdate(ctx context.Context, entityType, entityID string, fields map[string]interface{}) error
	CreateEntity(ctx context.Context, entityType string, fields map[string]interface{}) (string, error)
	MoveEntity(ctx context.Context, entityType, entityID, targetStatus string) error
	ArchiveEntity(ctx context.Context, entityType, entityID string) error
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, title, message string) error
}

// Mailer sends email.
type Mailer interface {
	SendEmail(ctx context.Context, recipients []string, subject, body string) error
}

// WebhookClient performs an outbound HTTP call and reports the status
// code of the final attempt.
type WebhookClient interface {
	Call(ctx context.Context, url, method string, headers map[string]string, body string) (int, error)
}

// ScriptRunner executes an opaque custom script in a sandbox.
type ScriptRunner interface {
	Run(ctx context.Context, script string, env map[string]interface{}) error
}

// ErrScriptsDisabled is returned when no sandbox is wired in.
var ErrScriptsDisabled = errors.New("custom scripts are disabled: no sandbox runner configured")

// noScriptRunner is the default ScriptRunner; it refuses every script.
type noScriptRunner struct{}

func (noScriptRunner) Run(ctx context.Context, script string, env map[string]interface{}) error {
	return ErrScriptsDisabled
}

// NewDisabledScriptRunner returns the refusing default runner.
func NewDisabledScriptRunner() ScriptRunner { return noScriptRunner{} }
