package tracing

// Span attribute keys.
const (
	AttrTopic       = "fanout.topic"
	AttrMessageID   = "fanout.message.id"
	AttrMessageSeq  = "fanout.message.seq"
	AttrSubject     = "fanout.subject"
	AttrRecipients  = "fanout.recipients"
	AttrDelivered   = "fanout.delivered"
	AttrFailed      = "fanout.failed"
	AttrEvicted     = "fanout.evicted"
	AttrHandleID    = "fanout.handle.id"
	AttrHandleName  = "fanout.handle.name"
	AttrFailReason  = "fanout.failure.reason"
	AttrStateHadOld = "fanout.state.had_old"
)

// Span names.
const (
	SpanPublish = "subject.publish"
	SpanUpdate  = "state.update"
	SpanHandle  = "observer.handle"
)

// Span event names.
const (
	EventSnapshotTaken   = "snapshot.taken"
	EventDeliveryFailed  = "delivery.failed"
	EventMessageEvicted  = "message.evicted"
	EventHandlerPanicked = "handler.panicked"
)
