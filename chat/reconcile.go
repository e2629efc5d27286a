package chat

import (
	"strings"
	"sync"
	"time"
)

// Transcript is the visible message list plus the reconciliation state that
// merges locally-originated optimistic messages with their server echoes.
// Correlation-id lookups go through an index map so reconciliation stays
// O(1) regardless of transcript length.
type Transcript struct {
	mu        sync.Mutex
	entries   []Message
	byCorr    map[string]int // correlation id -> entries index
	localAddr string
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{byCorr: map[string]int{}}
}

// Messages returns a snapshot of the visible list in display order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the number of visible entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// append assumes t.mu is held.
func (t *Transcript) append(m Message) {
	if m.CorrelationID != "" {
		t.byCorr[m.CorrelationID] = len(t.entries)
	}
	t.entries = append(t.entries, m)
}

// AppendLocal records an optimistic self entry for a message the local user
// just sent, before any server confirmation.
func (t *Transcript) AppendLocal(text, correlationID string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Message{
		ID:            newMessageID(),
		Author:        AuthorSelf,
		Text:          text,
		Address:       t.localAddr,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UnixMilli(),
	}
	t.append(m)
	return m
}

// AppendSystem records a locally synthesized notice.
func (t *Transcript) AppendSystem(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(Message{ID: newMessageID(), Author: AuthorSystem, Text: text})
}

// AppendRaw surfaces a payload that failed to parse, verbatim, as a remote
// message rather than dropping it.
func (t *Transcript) AppendRaw(raw string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(Message{ID: newMessageID(), Author: AuthorRemote, Text: raw})
}

// ApplyMessage reconciles an inbound plain message. A frame whose
// correlation id matches an existing entry only refreshes that entry's
// timestamp; the text already reflects what was sent, and replaying the same
// frame never produces a duplicate. Anything else is appended, attributed to
// self when its address matches the local identity (case-insensitive).
func (t *Transcript) ApplyMessage(f MessageFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.CorrelationID != "" {
		if i, ok := t.byCorr[f.CorrelationID]; ok {
			if f.Timestamp != 0 {
				t.entries[i].Timestamp = f.Timestamp
			}
			return
		}
	}
	t.append(t.fromFrame(f))
}

// fromFrame assumes t.mu is held.
func (t *Transcript) fromFrame(f MessageFrame) Message {
	author := AuthorRemote
	if t.localAddr != "" && f.Address != "" && strings.EqualFold(f.Address, t.localAddr) {
		author = AuthorSelf
	}
	return Message{
		ID:            newMessageID(),
		Author:        author,
		Text:          f.Text,
		Address:       f.Address,
		CorrelationID: f.CorrelationID,
		Timestamp:     f.Timestamp,
	}
}

// ApplyHistory hydrates the transcript from the server's bulk history. It is
// applied only when the visible list is empty; late or duplicate history
// frames are dropped so they cannot clobber live state.
func (t *Transcript) ApplyHistory(f HistoryFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) != 0 {
		return
	}
	for _, m := range f.Messages {
		if m.CorrelationID != "" {
			if _, ok := t.byCorr[m.CorrelationID]; ok {
				continue
			}
		}
		t.append(t.fromFrame(m))
	}
}

// ApplyError attaches a server rejection to the pending self message it
// references, or surfaces it as a new system message when nothing matches.
func (t *Transcript) ApplyError(f ErrorFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := errorText(f.Code)
	if f.CorrelationID != "" {
		if i, ok := t.byCorr[f.CorrelationID]; ok && t.entries[i].Author == AuthorSelf {
			t.entries[i].Error = text
			return
		}
	}
	t.append(Message{ID: newMessageID(), Author: AuthorSystem, Text: text})
}

// SetLocalAddress records the active local identity and retroactively flips
// authorship of entries whose address matches it. Handles history that was
// loaded before authentication completed.
func (t *Transcript) SetLocalAddress(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.localAddr = addr
	if addr == "" {
		return
	}
	for i := range t.entries {
		if t.entries[i].Author != AuthorSelf &&
			t.entries[i].Address != "" &&
			strings.EqualFold(t.entries[i].Address, addr) {
			t.entries[i].Author = AuthorSelf
		}
	}
}

// LocalAddress returns the currently known local identity address.
func (t *Transcript) LocalAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localAddr
}
