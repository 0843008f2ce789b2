package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRoster() []CrewMember {
	return []CrewMember{
		{
			Name:           "Avery Lee",
			Classification: "FFT1",
			Days: []Day{
				{Date: "2024-06-01", On: "0600", Off: "1800"},
				{Date: "2024-06-02", On: "0700", Off: "1900"},
			},
		},
		{Name: "Sam Ortiz", Classification: "FFT2", Days: []Day{}},
	}
}

func sampleInfo() CrewInfo {
	return CrewInfo{CrewName: "Engine 12", CrewNumber: "E-12", FireName: "Ridge", FireNumber: "CA-123"}
}

func TestRecordStore(t *testing.T) {
	for name, cfg := range storageConfigs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			records := NewRecordStore(openStores(t, cfg).Records)

			key, err := records.Save(ctx, "2024-06-01", "2024-06-02", sampleRoster(), sampleInfo())
			require.NoError(t, err)
			assert.Equal(t, "2024-06-01 to 2024-06-02", key)

			keys, err := records.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"2024-06-01 to 2024-06-02"}, keys)

			rec, err := records.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, &Record{DateRange: key, Roster: sampleRoster(), CrewInfo: sampleInfo()}, rec)

			require.NoError(t, records.Delete(ctx, key))
			keys, err = records.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)

			_, err = records.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRecordStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	records := NewRecordStore(NewMemoryStore())

	_, err := records.Save(ctx, "2024-06-01", "2024-06-02", sampleRoster(), sampleInfo())
	require.NoError(t, err)
	_, err = records.Save(ctx, "2024-07-01", "2024-07-03", nil, CrewInfo{})
	require.NoError(t, err)

	info := sampleInfo()
	info.FireName = "Canyon"
	_, err = records.Save(ctx, "2024-06-01", "2024-06-02", sampleRoster()[:1], info)
	require.NoError(t, err)

	keys, err := records.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	rec, err := records.Get(ctx, "2024-06-01 to 2024-06-02")
	require.NoError(t, err)
	assert.Equal(t, "Canyon", rec.CrewInfo.FireName)
	assert.Len(t, rec.Roster, 1)

	rec, err = records.Get(ctx, "2024-07-01 to 2024-07-03")
	require.NoError(t, err)
	assert.NotNil(t, rec.Roster)
	assert.Empty(t, rec.Roster)
}

func TestRecordStoreEmptyDates(t *testing.T) {
	ctx := context.Background()
	records := NewRecordStore(NewMemoryStore())

	key, err := records.Save(ctx, "", "", nil, CrewInfo{})
	require.NoError(t, err)
	assert.Equal(t, " to ", key)

	start, end, ok := ParseDateRange(key)
	assert.True(t, ok)
	assert.Empty(t, start)
	assert.Empty(t, end)
}

func TestSortKeysChronologically(t *testing.T) {
	keys := []string{
		"2024-07-01 to 2024-07-02",
		"garbage",
		"2024-06-01 to 2024-06-05",
		" to ",
		"2024-06-01 to 2024-06-02",
	}
	SortKeysChronologically(keys)
	assert.Equal(t, []string{
		"2024-06-01 to 2024-06-02",
		"2024-06-01 to 2024-06-05",
		"2024-07-01 to 2024-07-02",
		" to ",
		"garbage",
	}, keys)
}
