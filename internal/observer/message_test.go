package observer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(Topic("x"), 42)
	require.NoError(t, err)
	require.Equal(t, Topic("x"), msg.Topic)
	require.Equal(t, 42, msg.Payload)
	require.NotEmpty(t, msg.ID)
	require.False(t, msg.Timestamp.IsZero())
	require.Zero(t, msg.Seq)

	other, err := NewMessage(Topic("x"), 42)
	require.NoError(t, err)
	require.NotEqual(t, msg.ID, other.ID)
}

func TestNewMessage_EmptyTopic(t *testing.T) {
	_, err := NewMessage(Topic(""), "payload")
	require.ErrorIs(t, err, ErrEmptyTopic)
}

func TestFilter(t *testing.T) {
	all := All()
	require.True(t, all.IsAll())
	require.Nil(t, all.List())
	require.True(t, all.Matches("anything"))
	require.NoError(t, all.Validate())

	f := Topics("a", "b", "a")
	require.False(t, f.IsAll())
	require.Equal(t, []Topic{"a", "b"}, f.List())
	require.True(t, f.Matches("b"))
	require.False(t, f.Matches("c"))
	require.NoError(t, f.Validate())

	require.ErrorIs(t, Topics().Validate(), ErrEmptyFilter)
	require.ErrorIs(t, Topics("a", "").Validate(), ErrEmptyTopic)
}

func TestFilter_ListIsCopy(t *testing.T) {
	f := Topics("a")
	l := f.List()
	l[0] = "mutated"
	require.Equal(t, []Topic{"a"}, f.List())
}

type box struct{ vals []int }

func (b box) Clone() box {
	return box{vals: append([]int(nil), b.vals...)}
}

func TestCopyPayload(t *testing.T) {
	orig := box{vals: []int{1, 2}}
	c := copyPayload(orig)
	c.vals[0] = 99
	require.Equal(t, 1, orig.vals[0])

	require.Equal(t, 7, copyPayload(7))
}

func TestDeliveryFailure(t *testing.T) {
	f := DeliveryFailure{
		Topic:      "x",
		HandleID:   "abc",
		HandleName: "printer",
		MessageID:  "m1",
		Seq:        3,
		Cause:      ErrHandleClosed,
	}
	require.ErrorIs(t, f, ErrHandleClosed)
	require.Equal(t, "handle_closed", f.Reason())
	require.Contains(t, f.Error(), `topic "x"`)
	require.Contains(t, f.Error(), "printer (abc)")

	require.Equal(t, "stale_handle", DeliveryFailure{Cause: ErrStaleHandle}.Reason())
	require.Equal(t, "mailbox_full", DeliveryFailure{Cause: ErrMailboxFull}.Reason())
	require.Equal(t, "other", DeliveryFailure{Cause: ErrClosed}.Reason())
}
