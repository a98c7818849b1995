package redisson

// Command is an immutable command descriptor: its wire name, a decoder
// applied to the raw reply the Client returns, and a convertor applied to
// the decoded value before it reaches the caller. A command variant with a
// different wire name — EVAL rewritten to EVALSHA being the one case the
// core itself performs — is built with WithName, which keeps the same
// decoder and convertor.
type Command struct {
	Name    string
	Decode  func(raw interface{}) (interface{}, error)
	Convert func(decoded interface{}) interface{}
}

// NewCommand builds a Command. A nil decode/convert is treated as identity.
func NewCommand(name string, decode func(interface{}) (interface{}, error), convert func(interface{}) interface{}) *Command {
	return &Command{Name: name, Decode: decode, Convert: convert}
}

// WithName returns a copy of c with a different wire name, preserving the
// decoder and convertor. Used to rewrite EVAL into EVALSHA.
func (c *Command) WithName(name string) *Command {
	return &Command{Name: name, Decode: c.Decode, Convert: c.Convert}
}

func (c *Command) decode(raw interface{}) (interface{}, error) {
	if c.Decode == nil {
		return raw, nil
	}
	return c.Decode(raw)
}

func (c *Command) convert(v interface{}) interface{} {
	if c.Convert == nil {
		return v
	}
	return c.Convert(v)
}

// NodeSourceKind tags which of NodeSource's variants is populated.
type NodeSourceKind int

const (
	// BySlotKind resolves to the entry owning Slot.
	BySlotKind NodeSourceKind = iota
	// ByEntryKind pins dispatch to a specific master-slave group.
	ByEntryKind
	// ByClientKind pins dispatch to a specific client, bypassing slot
	// routing entirely.
	ByClientKind
)

// NodeSource is a tagged descriptor of where to send a command: by slot
// (the resolver picks the owning entry), by a specific entry, or by a
// specific client. A slot source may additionally force a specific client
// within that slot's entry (BySlotAndClient). A Redirected source carries a
// MOVED/ASK override discovered mid-attempt.
type NodeSource struct {
	Kind NodeSourceKind

	Slot   int
	Entry  *Entry
	Client Client

	// ForcedClient restricts a BySlotKind/ByEntryKind source to a specific
	// client within the resolved entry (BySlotAndClient).
	ForcedClient Client

	// Redirect, when non-nil, overrides whatever the Kind/Slot/Entry would
	// normally resolve to with the client a MOVED/ASK reply pointed at.
	Redirect *RedirectTarget
}

// RedirectTarget is the override a MOVED/ASK redirect installs on a
// NodeSource for the next attempt.
type RedirectTarget struct {
	Original *NodeSource
	Client   Client
	Ask      bool
}

// Redirected builds the NodeSource the RetryDriver re-dispatches with after
// following a MOVED/ASK reply: same logical source, but pinned to newClient.
func Redirected(original NodeSource, newClient Client, ask bool) NodeSource {
	orig := original
	return NodeSource{
		Kind:     ByClientKind,
		Client:   newClient,
		Redirect: &RedirectTarget{Original: &orig, Client: newClient, Ask: ask},
	}
}

// BySlot resolves to whichever entry currently owns slot.
func BySlot(slot int) NodeSource {
	return NodeSource{Kind: BySlotKind, Slot: slot}
}

// BySlotAndClient is BySlot with the client forced, used when a prior
// attempt already pinned a specific node within the slot's entry.
func BySlotAndClient(slot int, client Client) NodeSource {
	return NodeSource{Kind: BySlotKind, Slot: slot, ForcedClient: client}
}

// ByEntry targets a specific master-slave group directly.
func ByEntry(e *Entry) NodeSource {
	return NodeSource{Kind: ByEntryKind, Entry: e}
}

// ByClient targets a specific client with no slot routing at all.
func ByClient(c Client) NodeSource {
	return NodeSource{Kind: ByClientKind, Client: c}
}
