// Package events defines the bus subjects published by the orchestrator.
package events

// Subjects for orchestration lifecycle events. All live under the
// "archon." prefix so observers can subscribe to "archon.>".
const (
	SubjectMessageReceived  = "archon.message.received"
	SubjectMessageCompleted = "archon.message.completed"
	SubjectMessageFailed    = "archon.message.failed"
	SubjectSessionStarted   = "archon.session.started"
	SubjectSessionRotated   = "archon.session.rotated"
	SubjectWorkflowInvoked  = "archon.workflow.invoked"
	SubjectIsolationCreated = "archon.isolation.created"
	SubjectIsolationBlocked = "archon.isolation.blocked"
	SubjectIsolationCleaned = "archon.isolation.cleaned"
)

// SubjectAll matches every Archon event.
const SubjectAll = "archon.>"
