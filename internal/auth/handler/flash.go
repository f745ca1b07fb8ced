package handler

import (
	"encoding/json"

	"github.com/offsoc/copr/internal/auth"
	"github.com/offsoc/copr/internal/session"
)

const flashKey = "_flash"

func addFlash(sess *session.Values, f auth.Flash) {
	flashes := peekFlashes(sess)
	flashes = append(flashes, f)
	data, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	sess.Set(flashKey, string(data))
}

// popFlashes returns and clears the pending flash messages.
func popFlashes(sess *session.Values) []auth.Flash {
	flashes := peekFlashes(sess)
	sess.Delete(flashKey)
	return flashes
}

func peekFlashes(sess *session.Values) []auth.Flash {
	raw, ok := sess.Get(flashKey)
	if !ok {
		return nil
	}
	var flashes []auth.Flash
	if err := json.Unmarshal([]byte(raw), &flashes); err != nil {
		return nil
	}
	return flashes
}
