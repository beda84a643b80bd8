package telegram

import (
	"encoding/json"
	"strconv"
	"sync"
)

// Request fields that address a thread, in default preference order.
var threadFieldCandidates = []string{"message_thread_id", "direct_messages_topic_id"}

// fieldNegotiator remembers, per chat, which request field the API honoured
// for thread addressing.
type fieldNegotiator struct {
	mu         sync.RWMutex
	candidates []string
	preferred  map[int64]string
}

func newFieldNegotiator(candidates []string) *fieldNegotiator {
	if len(candidates) == 0 {
		candidates = threadFieldCandidates
	}
	return &fieldNegotiator{
		candidates: append([]string(nil), candidates...),
		preferred:  make(map[int64]string),
	}
}

// order returns the fields to try for chatID, confirmed preference first.
func (n *fieldNegotiator) order(chatID int64) []string {
	n.mu.RLock()
	pref, ok := n.preferred[chatID]
	n.mu.RUnlock()
	if !ok {
		return n.candidates
	}
	out := make([]string, 0, len(n.candidates))
	out = append(out, pref)
	for _, c := range n.candidates {
		if c != pref {
			out = append(out, c)
		}
	}
	return out
}

func (n *fieldNegotiator) confirmed(chatID int64) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.preferred[chatID]
	return ok
}

func (n *fieldNegotiator) confirm(chatID int64, field string) {
	n.mu.Lock()
	n.preferred[chatID] = field
	n.mu.Unlock()
}

func (n *fieldNegotiator) forget(chatID int64) {
	n.mu.Lock()
	delete(n.preferred, chatID)
	n.mu.Unlock()
}

// threadIDFrom extracts the thread a returned message or topic belongs to,
// trying the field names used across API versions.
func threadIDFrom(raw json.RawMessage) (int64, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, false
	}
	for _, key := range []string{"message_thread_id", "topic_id", "thread_id"} {
		if id, ok := int64Field(obj, key); ok {
			return id, true
		}
	}
	if nested, ok := obj["direct_messages_topic"]; ok {
		var topic map[string]json.RawMessage
		if err := json.Unmarshal(nested, &topic); err == nil {
			if id, ok := int64Field(topic, "topic_id"); ok {
				return id, true
			}
		}
	}
	return 0, false
}

func int64Field(obj map[string]json.RawMessage, key string) (int64, bool) {
	raw, ok := obj[key]
	if !ok {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n != 0 {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n != 0 {
			return n, true
		}
	}
	return 0, false
}

func messageIDFrom(raw json.RawMessage) int64 {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	id, _ := int64Field(obj, "message_id")
	return id
}
