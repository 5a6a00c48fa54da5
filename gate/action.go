package gate

// Action describes the kind of operation a caller wants to perform.
type Action string

const (
	ActionView        Action = "view"
	ActionList        Action = "list"
	ActionCreate      Action = "create"
	ActionSettle      Action = "settle"
	ActionAcknowledge Action = "acknowledge"
	ActionResolve     Action = "resolve"
)
