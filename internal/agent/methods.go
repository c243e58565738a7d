package agent

// Client requests.
const (
	MethodInitialize     = "initialize"
	MethodInitialized    = "initialized"
	MethodThreadStart    = "thread/start"
	MethodThreadResume   = "thread/resume"
	MethodThreadFork     = "thread/fork"
	MethodThreadCompact  = "thread/compact/start"
	MethodThreadLoaded   = "thread/loaded/list"
	MethodTurnStart      = "turn/start"
	MethodTurnInterrupt  = "turn/interrupt"
	MethodReviewStart    = "review/start"
	MethodModelList      = "model/list"
	MethodConfigRead     = "config/read"
	MethodConfigReqs     = "configRequirements/read"
	MethodMCPStatusList  = "mcpServerStatus/list"
	MethodAppList        = "app/list"
	MethodCollabModeList = "collaborationMode/list"
)

// Server notifications.
const (
	NotifyThreadStarted = "thread/started"
	NotifyTurnStarted   = "turn/started"
	NotifyTurnCompleted = "turn/completed"
	NotifyItemStarted   = "item/started"
	NotifyItemCompleted = "item/completed"
	NotifyAgentDelta    = "item/agentMessage/delta"
	NotifyError         = "error"
)

// Server requests that ask the client for approval.
const (
	RequestCommandApproval    = "item/commandExecution/requestApproval"
	RequestFileChangeApproval = "item/fileChange/requestApproval"
	RequestLegacyExecApproval = "execCommandApproval"
	RequestLegacyPatchApprove = "applyPatchApproval"
)

// Thread item types.
const (
	ItemAgentMessage     = "agentMessage"
	ItemExitedReviewMode = "exitedReviewMode"
)

// Turn status values reported by turn/completed.
const (
	TurnCompleted   = "completed"
	TurnInterrupted = "interrupted"
	TurnFailed      = "failed"
)
