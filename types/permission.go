package types

import "errors"

// ErrNotFound is returned by storage backends for a missing key
var ErrNotFound = errors.New("key not found")

// Permission is a capability granted to the current user
type Permission string

const (
	PermissionAccountsRead     Permission = "accounts:read"
	PermissionTransferExecute  Permission = "transfer:execute"
	PermissionTransferHighRisk Permission = "transfer:high_value"
	PermissionGoalAdjust       Permission = "goal:adjust"
	PermissionNotify           Permission = "notification:send"
)
