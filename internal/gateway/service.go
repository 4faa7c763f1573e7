package gateway

// Service is the lifecycle contract every gateway subsystem implements.
// Start must be non-blocking and Stop must be bounded; both return an error
// when called in the wrong state.
type Service interface {
	Start() error
	Stop() error
}
