package auth

import "time"

// Metadata carries timing and attempt information for a completed operation.
type Metadata struct {
	// Latency is the total wall time spent, including backoff sleeps.
	Latency time.Duration `json:"latency"`
	// Attempts is the number of attempts actually made, 1-based.
	Attempts int `json:"attempts"`
	// InstanceID tags the client instance that ran the operation.
	InstanceID string `json:"instance_id"`
}

// Result is the uniform envelope returned by every authentication operation.
// Exactly one of Data and Err is meaningful: Data when Success is true, Err
// otherwise.
type Result[T any] struct {
	Success  bool     `json:"success"`
	Data     T        `json:"data,omitempty"`
	Err      *Error   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// success builds a successful envelope.
func success[T any](data T, latency time.Duration, attempts int, instanceID string) Result[T] {
	return Result[T]{
		Success:  true,
		Data:     data,
		Metadata: Metadata{Latency: latency, Attempts: attempts, InstanceID: instanceID},
	}
}

// failure builds a failed envelope.
func failure[T any](err *Error, latency time.Duration, attempts int, instanceID string) Result[T] {
	return Result[T]{
		Success:  false,
		Err:      err,
		Metadata: Metadata{Latency: latency, Attempts: attempts, InstanceID: instanceID},
	}
}
