package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleSystem    = "system"

	// BookKey is the vector key of the shared baseline document. Per-user resets never touch it.
	BookKey  = "book"
	BookName = "Master and Margarita"
)

// Event types published on the bus.
const (
	EventDocumentIngested    = "DOCUMENT_INGESTED"
	EventUserReset           = "USER_RESET"
	EventResetCleanupPending = "RESET_CLEANUP_PENDING"
	EventCleanupExhausted    = "RESET_CLEANUP_EXHAUSTED"
)

// Logger modules.
const (
	ModuleRegistry     = "REGISTRY"
	ModuleConversation = "CONVERSATION"
	ModuleDispatcher   = "DISPATCHER"
	ModuleTelegram     = "TELEGRAM"
	ModuleCleanup      = "CLEANUP"
	ModuleAudit        = "AUDIT"
	ModuleBook         = "BOOK"
	ModuleHTTP         = "HTTP"
	ModuleWebsocket    = "WEBSOCKET"
)
