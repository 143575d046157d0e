package payload

// Payload is serialized data stored by a backend.
type Payload []byte
