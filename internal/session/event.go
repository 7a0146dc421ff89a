package session

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Hook event names delivered by the push source. Any other name is
// accepted and handled as generic bookkeeping.
const (
	EventSessionStart     = "SessionStart"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventPostToolUse      = "PostToolUse"
	EventNotification     = "Notification"
	EventStop             = "Stop"
	EventSessionEnd       = "SessionEnd"
)

// permissionPromptType is the structured notification type that marks a
// permission request.
const permissionPromptType = "permission_prompt"

// Event is a normalized hook event. SessionID empty means the event
// carries no identity and must be ignored.
type Event struct {
	Name      string
	SessionID string
	ShellPID  int
	Cwd       string

	ToolName         string
	NotificationType string
	Message          string
	PermissionMode   string

	// PermissionHint is true when the payload signals a permission
	// prompt, either via the structured type or, as a fallback, by the
	// word "permission" appearing anywhere in the serialized payload.
	PermissionHint bool
}

// ParseEvent normalizes a raw hook payload. The only error is malformed
// JSON; absent or oddly shaped optional fields leave the corresponding
// Event field unset.
func ParseEvent(data []byte) (Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Event{}, err
	}

	ev := Event{
		Name:           asString(payload["hook_event_name"]),
		SessionID:      asString(payload["session_id"]),
		ShellPID:       asPid(payload["shell_pid"]),
		Cwd:            asString(payload["cwd"]),
		ToolName:       asString(payload["tool_name"]),
		PermissionMode: asString(payload["permission_mode"]),
	}

	// Older hook scripts nest the tool: {"tool": {"name": "Bash"}}
	if ev.ToolName == "" {
		if tool, ok := payload["tool"].(map[string]any); ok {
			ev.ToolName = asString(tool["name"])
		}
	}

	ev.NotificationType = asString(payload["notification_type"])
	if ev.NotificationType == "" {
		ev.NotificationType = asString(payload["type"])
	}

	ev.Message = asString(payload["message"])
	if ev.Message == "" {
		ev.Message = asString(payload["title"])
	}

	ev.PermissionHint = ev.NotificationType == permissionPromptType ||
		strings.Contains(strings.ToLower(string(data)), "permission")

	return ev, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asPid coerces a pid field that may arrive as a JSON number (float64
// after generic decoding) or a numeric string. Anything else is
// "unknown".
func asPid(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		pid, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return pid
	default:
		return 0
	}
}
