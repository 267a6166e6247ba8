package types

// Event is the payload of a committed billing or escrow change. Attributes
// hold ids in their bech32 or hex form and amounts as decimal strings.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
