package protocol

// RPC method name constants.
const (
	// System
	MethodConnect = "connect"
	MethodHealth  = "health"

	// Channels
	MethodChannelsCreate  = "channels.create"
	MethodChannelsList    = "channels.list"
	MethodChannelsJoin    = "channels.join"
	MethodChannelsLeave   = "channels.leave"
	MethodChannelsInvite  = "channels.invite"
	MethodChannelsArchive = "channels.archive"
	MethodChannelsPost    = "channels.post"
	MethodChannelsHistory = "channels.history"
	MethodChannelsRead    = "channels.read"
	MethodChannelsUnread  = "channels.unread"
)
