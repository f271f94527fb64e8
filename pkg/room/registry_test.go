package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, replaced := r.Put(Membership{Room: "lobby", ClientID: "c1"})
	assert.False(t, replaced)
	r.Put(Membership{Room: "announce", ClientID: "c1"})

	prev, replaced := r.Put(Membership{Room: "lobby", ClientID: "c2"})
	assert.True(t, replaced)
	assert.Equal(t, ClientID("c1"), prev.ClientID)

	m, ok := r.Get("lobby")
	assert.True(t, ok)
	assert.Equal(t, ClientID("c2"), m.ClientID)

	assert.Equal(t, []string{"announce", "lobby"}, r.Rooms())
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Delete("announce"))
	assert.False(t, r.Delete("announce"))
	assert.Equal(t, []Membership{{Room: "lobby", ClientID: "c2"}}, r.Memberships())

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestEntryMergeIsIdempotent(t *testing.T) {
	local := Entry{Message: Message{Text: "hi", SenderID: "c1", Timestamp: "T0"}, State: Pending, Self: true}
	echo := Message{Text: "hi", SenderID: "c1", Timestamp: "T0", Username: "alice"}

	once := local.merge(echo)
	assert.Equal(t, Confirmed, once.State)
	assert.Equal(t, "alice", once.Message.Username)
	assert.True(t, once.Self)

	assert.Equal(t, once, once.merge(echo))
	assert.Equal(t, once, once.merge(Message{Text: "hi", SenderID: "c1", Timestamp: "T0", Username: "other"}))
}

func TestMessageAuthor(t *testing.T) {
	assert.Equal(t, "c9", Message{SenderID: "c9"}.Author())
	assert.Equal(t, "bob", Message{SenderID: "c9", Username: "bob"}.Author())
}
