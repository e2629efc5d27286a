package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileEchoUpdatesTimestampOnly(t *testing.T) {
	tr := NewTranscript()
	tr.SetLocalAddress("0xabc")
	tr.AppendLocal("hello", "abc123")

	tr.ApplyMessage(MessageFrame{Text: "hello", CorrelationID: "abc123", Timestamp: 1000})

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, AuthorSelf, msgs[0].Author)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, int64(1000), msgs[0].Timestamp)
	assert.Equal(t, "abc123", msgs[0].CorrelationID)
}

func TestReconcileReplayedEchoIsIdempotent(t *testing.T) {
	tr := NewTranscript()
	tr.AppendLocal("hello", "abc123")

	echo := MessageFrame{Text: "hello", CorrelationID: "abc123", Timestamp: 1000}
	tr.ApplyMessage(echo)
	tr.ApplyMessage(echo)

	assert.Equal(t, 1, tr.Len())
}

func TestReconcileInboundWithoutMatchAppends(t *testing.T) {
	tr := NewTranscript()
	tr.SetLocalAddress("0xabc")

	tr.ApplyMessage(MessageFrame{Text: "hi there", Address: "0xDEF", Timestamp: 5})
	tr.ApplyMessage(MessageFrame{Text: "from my other tab", Address: "0xABC", Timestamp: 6})

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, AuthorRemote, msgs[0].Author)
	// Case-insensitive address match attributes to self.
	assert.Equal(t, AuthorSelf, msgs[1].Author)
}

func TestReconcileIdenticalTextFromPeersIsNotDeduplicated(t *testing.T) {
	tr := NewTranscript()

	tr.ApplyMessage(MessageFrame{Text: "gm", Address: "0x111"})
	tr.ApplyMessage(MessageFrame{Text: "gm", Address: "0x222"})

	assert.Equal(t, 2, tr.Len())
}

func TestRetroactiveAuthorship(t *testing.T) {
	tr := NewTranscript()

	tr.ApplyMessage(MessageFrame{Text: "early", Address: "0xABC"})
	require.Equal(t, AuthorRemote, tr.Messages()[0].Author)

	tr.SetLocalAddress("0xabc")

	assert.Equal(t, AuthorSelf, tr.Messages()[0].Author)
}

func TestHistoryAppliedOnlyWhenEmpty(t *testing.T) {
	tr := NewTranscript()
	history := HistoryFrame{Messages: []MessageFrame{
		{Text: "one", Address: "0x111", Timestamp: 1},
		{Text: "two", Address: "0x222", Timestamp: 2},
	}}

	tr.ApplyHistory(history)
	require.Equal(t, 2, tr.Len())

	// A duplicate history frame after hydration has no effect.
	tr.ApplyHistory(history)
	assert.Equal(t, 2, tr.Len())

	tr2 := NewTranscript()
	tr2.AppendLocal("live", "c1")
	tr2.ApplyHistory(history)
	assert.Equal(t, 1, tr2.Len(), "history must not clobber a non-empty list")
}

func TestErrorAnnotatesPendingMessage(t *testing.T) {
	tr := NewTranscript()
	tr.AppendLocal("hello", "abc123")

	tr.ApplyError(ErrorFrame{Code: "rate_limited", CorrelationID: "abc123"})

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "You are sending messages too quickly. Please wait.", msgs[0].Error)
}

func TestUnmatchedErrorBecomesSystemMessage(t *testing.T) {
	tr := NewTranscript()

	tr.ApplyError(ErrorFrame{Code: "auth_required"})
	tr.ApplyError(ErrorFrame{Code: "strange_code", CorrelationID: "nope"})

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, AuthorSystem, msgs[0].Author)
	assert.Equal(t, "You must sign in before chatting.", msgs[0].Text)
	assert.Equal(t, "Error: strange_code", msgs[1].Text)
}

func TestMalformedPayloadShownVerbatim(t *testing.T) {
	tr := NewTranscript()

	tr.AppendRaw("garbled <<< payload")

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, AuthorRemote, msgs[0].Author)
	assert.Equal(t, "garbled <<< payload", msgs[0].Text)
}

func TestHistorySkipsDuplicateCorrelationIDs(t *testing.T) {
	tr := NewTranscript()

	tr.ApplyHistory(HistoryFrame{Messages: []MessageFrame{
		{Text: "a", CorrelationID: "c1"},
		{Text: "a again", CorrelationID: "c1"},
		{Text: "b"},
	}})

	assert.Equal(t, 2, tr.Len())
}
