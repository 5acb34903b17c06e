package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAckTracker_ContiguousCommits(t *testing.T) {
	req := require.New(t)

	tr := NewAckTracker()
	for offset := int64(10); offset < 14; offset++ {
		tr.Track(Delivery{Partition: 0, Offset: offset})
	}
	tr.Track(Delivery{Partition: 1, Offset: 5})

	_, ok, err := tr.Done(Delivery{Partition: 0, Offset: 12})
	req.NoError(err)
	req.False(ok)

	_, ok, err = tr.Done(Delivery{Partition: 0, Offset: 11})
	req.NoError(err)
	req.False(ok)

	commit, ok, err := tr.Done(Delivery{Partition: 0, Offset: 10})
	req.NoError(err)
	req.True(ok)
	req.Equal(int64(12), commit.Offset)

	commit, ok, err = tr.Done(Delivery{Partition: 1, Offset: 5})
	req.NoError(err)
	req.True(ok)
	req.Equal(int64(5), commit.Offset)
	req.Equal(1, commit.Partition)

	req.Equal(1, tr.Pending())

	commit, ok, err = tr.Done(Delivery{Partition: 0, Offset: 13})
	req.NoError(err)
	req.True(ok)
	req.Equal(int64(13), commit.Offset)
	req.Zero(tr.Pending())
}

func TestAckTracker_UnknownDelivery(t *testing.T) {
	req := require.New(t)

	tr := NewAckTracker()
	tr.Track(Delivery{Partition: 0, Offset: 1})

	_, _, err := tr.Done(Delivery{Partition: 0, Offset: 2})
	req.Error(err)

	_, _, err = tr.Done(Delivery{Partition: 3, Offset: 1})
	req.Error(err)
}
