package session

// Values is the per-request view of one session's key/value state.
// It is owned by a single request and is not safe for concurrent use.
// Mutations are tracked so the caller only persists changed sessions.
type Values struct {
	id    string
	data  map[string]string
	dirty bool
}

// NewValues returns an empty, not yet persisted session.
func NewValues() *Values {
	return &Values{data: make(map[string]string)}
}

// FromSession wraps a loaded session.
func FromSession(s *Session) *Values {
	v := &Values{id: s.SessionID, data: make(map[string]string, len(s.Values))}
	for k, val := range s.Values {
		v.data[k] = val
	}
	return v
}

// ID is empty until the session has been persisted once.
func (v *Values) ID() string { return v.id }

func (v *Values) Get(key string) (string, bool) {
	val, ok := v.data[key]
	return val, ok
}

func (v *Values) Set(key, value string) {
	if cur, ok := v.data[key]; ok && cur == value {
		return
	}
	v.data[key] = value
	v.dirty = true
}

// Delete removes key. Deleting an absent key is a no-op.
func (v *Values) Delete(key string) {
	if _, ok := v.data[key]; !ok {
		return
	}
	delete(v.data, key)
	v.dirty = true
}

func (v *Values) Dirty() bool { return v.dirty }

func (v *Values) Len() int { return len(v.data) }

// Snapshot returns a copy of the current state for persistence.
func (v *Values) Snapshot() map[string]string {
	out := make(map[string]string, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out
}

// MarkSaved records that the state was persisted under id.
func (v *Values) MarkSaved(id string) {
	v.id = id
	v.dirty = false
}

// Renew drops the current ID so the next save issues a fresh one.
// It returns the previous ID for the caller to delete.
func (v *Values) Renew() string {
	old := v.id
	v.id = ""
	v.dirty = true
	return old
}
