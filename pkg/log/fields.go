package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor, same keys the auth middleware stores on the gin context.
	FieldUserID = "user_id"

	// Chat
	FieldConnID      = "conn_id"
	FieldRoom        = "room"
	FieldEvent       = "event"
	FieldWorkspaceID = "workspace_id"
	FieldChannelID   = "channel_id"
	FieldMessageID   = "message_id"
	FieldTargetID    = "target_id"

	FieldService = "service"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
