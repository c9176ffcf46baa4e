package zfs

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGetCreation(t *testing.T) {
	f, err := os.Open("testdata/getcreation.txt")
	require.NoError(t, err)
	defer f.Close()

	ps, err := ParseGetCreation(f)
	require.NoError(t, err)

	require.Len(t, ps.Pools(), 2)
	assert.Equal(t, "tank", ps.Pools()[0].Name)
	assert.Equal(t, "backup", ps.Pools()[1].Name)
	assert.True(t, ps.Pools()[0].IsPool())

	data, err := ps.LookupDataset("tank/data")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1500000200, 0), data.Creation)
	assert.Equal(t, "tank", data.Parent.Name)
	require.Len(t, data.Children, 1)
	assert.Equal(t, "tank/data/sub", data.Children[0].Name)

	// sorted by creation
	require.Len(t, data.Snapshots, 2)
	assert.Equal(t, "a", data.Snapshots[0].Name)
	assert.Equal(t, "b", data.LatestSnapshot().Name)

	snap, err := ps.LookupSnapshot("tank/data@b")
	require.NoError(t, err)
	assert.Equal(t, "tank/data@b", snap.FullName())
	assert.Same(t, data, snap.Dataset)

	sub, err := ps.LookupDataset("tank/data/sub")
	require.NoError(t, err)
	assert.Nil(t, sub.LatestSnapshot())

	var walked []string
	ps.Walk(func(d *Dataset) { walked = append(walked, d.Name) })
	assert.Equal(t, []string{"tank", "tank/data", "tank/data/sub", "backup", "backup/tank"}, walked)
}

func TestPoolSetLookupErrors(t *testing.T) {
	ps, err := ParseGetCreation(strings.NewReader("tank\t1\ntank@s\t2\n"))
	require.NoError(t, err)

	_, err = ps.LookupDataset("tank/missing")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "tank/missing", nf.Name)

	_, err = ps.LookupSnapshot("tank@missing")
	require.True(t, errors.As(err, &nf))

	_, err = ps.LookupSnapshot("tank")
	assert.Error(t, err)
	_, err = ps.LookupDataset("tank@s")
	assert.Error(t, err)

	pool, err := ps.Pool("tank")
	require.NoError(t, err)
	assert.Equal(t, "tank", pool.Name)
	_, err = ps.Pool("other")
	assert.Error(t, err)
}

func TestParseGetCreationInvalid(t *testing.T) {
	tcs := map[string]string{
		"no tab":         "tank 1\n",
		"bad value":      "tank\tyesterday\n",
		"orphan":         "tank/data\t1\n",
		"orphan snap":    "tank@snap\t1\n",
		"duplicate pool": "tank\t1\ntank\t2\n",
	}
	for name, input := range tcs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGetCreation(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestParseGetCreationEmpty(t *testing.T) {
	ps, err := ParseGetCreation(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ps.Pools())
}
