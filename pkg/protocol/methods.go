package protocol

// RPC method names. These are the values carried in RequestFrame.Method and
// dispatched by gateway.MethodRouter.
const (
	MethodHealth               = "health"
	MethodStatus               = "status"
	MethodBrowserPairingStatus = "browser.pairing.status"

	MethodSend = "send"

	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodChatAbort   = "chat.abort"
	MethodChatInject  = "chat.inject"

	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"
	MethodChannelsToggle = "channels.toggle"

	MethodCronList   = "cron.list"
	MethodCronCreate = "cron.create"
	MethodCronUpdate = "cron.update"
	MethodCronDelete = "cron.delete"
	MethodCronToggle = "cron.toggle"
	MethodCronStatus = "cron.status"
	MethodCronRun    = "cron.run"
	MethodCronRuns   = "cron.runs"

	MethodConfigGet    = "config.get"
	MethodConfigApply  = "config.apply"
	MethodConfigPatch  = "config.patch"
	MethodConfigSchema = "config.schema"

	MethodPairingRequest = "pairing.request"
	MethodPairingApprove = "pairing.approve"
	MethodPairingList    = "pairing.list"
	MethodPairingRevoke  = "pairing.revoke"

	MethodSkillsList   = "skills.list"
	MethodSkillsGet    = "skills.get"
	MethodSkillsUpdate = "skills.update"

	MethodApprovalsList    = "exec.approval.list"
	MethodApprovalsApprove = "exec.approval.approve"
	MethodApprovalsDeny    = "exec.approval.deny"

	MethodSessionGet    = "session.get"
	MethodSessionSend   = "session.send"
	MethodSessionReset  = "session.reset"
	MethodSessionUpdate = "session.update"
	MethodSessionDelete = "session.delete"

	MethodNodeList         = "node.list"
	MethodNodeInvoke       = "node.invoke"
	MethodNodeInvokeResult = "node.invoke.result" // sent by a node replying to node.invoke.request
	MethodNodeHello        = "node.hello"         // sent by a node declaring itself after connect
	MethodNodePairApprove  = "node.pair.approve"
	MethodNodePairDeny     = "node.pair.deny"
)
