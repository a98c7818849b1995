package redisson

import "math/rand"

// NodeSelector resolves a command to a NodeSource. It never talks to the
// network itself — it only builds the tagged descriptor the executor later
// resolves against the ConnectionManager. A nil key in non-cluster mode
// resolves to the default (single) entry's master; callers in cluster mode
// must never pass a nil key through the scatter path.
type NodeSelector struct {
	cm ConnectionManager
}

// NewNodeSelector builds a NodeSelector bound to cm.
func NewNodeSelector(cm ConnectionManager) *NodeSelector {
	return &NodeSelector{cm: cm}
}

// ForKey resolves key's slot via the connection manager's hashing rule.
func (s *NodeSelector) ForKey(key string) NodeSource {
	return BySlot(s.cm.CalcSlot(key))
}

// ForBytes is the []byte counterpart of ForKey.
func (s *NodeSelector) ForBytes(key []byte) NodeSource {
	return BySlot(s.cm.CalcSlotBytes(key))
}

// ForEntry targets e directly, with no slot routing.
func (s *NodeSelector) ForEntry(e *Entry) NodeSource {
	return ByEntry(e)
}

// ForClient targets c directly, with no slot or entry routing.
func (s *NodeSelector) ForClient(c Client) NodeSource {
	return ByClient(c)
}

// randomSlave is the default read-replica routing policy: pick uniformly
// among the entry's slaves. Node health is not consulted; a slave marked
// failing is as likely to be picked as any other.
func randomSlave(slaves []Client) Client {
	if len(slaves) == 0 {
		return nil
	}
	return slaves[rand.Intn(len(slaves))]
}

// resolveClient turns a NodeSource into the concrete Client an attempt
// should use, honoring readOnlyMode for slot/entry sources. A Redirect
// override always wins.
func resolveClient(cm ConnectionManager, source NodeSource, readOnlyMode bool) (Client, error) {
	if source.Redirect != nil {
		return source.Redirect.Client, nil
	}

	switch source.Kind {
	case ByClientKind:
		return source.Client, nil
	case ByEntryKind:
		return source.Entry.Connection(readOnlyMode, nil), nil
	case BySlotKind:
		if source.ForcedClient != nil {
			return source.ForcedClient, nil
		}
		entry, err := cm.EntryForSlot(source.Slot)
		if err != nil {
			return nil, &ConnectionError{Cause: err}
		}
		return entry.Connection(readOnlyMode, nil), nil
	default:
		panic("redisson: unknown NodeSource kind")
	}
}
