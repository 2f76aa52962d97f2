package bot

import (
	"testing"

	"github.com/nlopes/slack"
	"github.com/stretchr/testify/assert"
)

func TestRegistryFind(t *testing.T) {
	r := NewRegistry()
	r.Reset([]Channel{
		{ID: "C1", Name: "general"},
		{ID: "G2", Name: "secret"},
	})

	for _, tc := range []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "C1", want: "C1", ok: true},
		{in: "C1|general", want: "C1", ok: true},
		{in: "secret", want: "G2", ok: true},
		{in: "C9|general", ok: false},
		{in: "nope", ok: false},
	} {
		t.Run(tc.in, func(t *testing.T) {
			c, ok := r.Find(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, c.ID)
		})
	}

	r.Remove("C1")
	_, ok := r.Get("C1")
	assert.False(t, ok)
	r.Clear()
	assert.Empty(t, r.Snapshot())
}

func TestChannelsFromConversations(t *testing.T) {
	r := NewRegistry()
	r.Reset(channelsFromConversations([]slack.Channel{
		conversation("C1", "general"),
		conversation("G1", "private"),
		imConversation("D1", "U7"),
	}))
	assert.Equal(t, []Channel{
		{ID: "C1", Name: "general", IsMember: true},
		{ID: "D1", Name: "U7", IsMember: true, IsIM: true},
		{ID: "G1", Name: "private", IsMember: true},
	}, r.Snapshot())
}
