package middlewares

const (
	CtxRequestID = "request_id"
	CtxSessionID = "session.id"
	CtxSession   = "session.context"
	CtxState     = "session.state"
)
