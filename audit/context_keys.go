// Package audit provides audit logging and the execution journal
package audit

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// Context keys carried into audit events
const (
	KeyActionID   ContextKey = "actionId"   // action being processed
	KeyRuleID     ContextKey = "ruleId"     // rule that produced the action
	KeyActionType ContextKey = "actionType" // kind of action
	KeyVaultKey   ContextKey = "vaultKey"   // vault entry name, never its value
	KeyReason     ContextKey = "reason"     // decision or failure reason
	KeyError      ContextKey = "error"      // error message if operation failed

	KeyUserID    ContextKey = "userId"    // user identifier
	KeyOperation ContextKey = "operation" // operation being performed
)

// contextKeys lists the keys copied from a context.Context into an event
var contextKeys = []ContextKey{KeyActionID, KeyRuleID, KeyActionType, KeyVaultKey, KeyUserID, KeyOperation}
