package sink

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangescan/internal/core/ranges"
)

func record(serial int64, payload string) ranges.Record {
	return ranges.Record{
		Serial:     serial,
		Identifier: ranges.Range{Key: "2626", DigitWidth: 5, HasSeparator: true}.Identifier(serial),
		Payload:    payload,
		RecordedAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFileSink(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			ctx := context.Background()
			s, err := NewFileSink(t.TempDir(), compress)
			require.NoError(t, err)
			defer s.Close()

			require.NoError(t, s.EnsureDestination(ctx, "2626"))
			require.NoError(t, s.Append(ctx, "2626", record(7, "9876543210")))
			require.NoError(t, s.EnsureDestination(ctx, "2626"), "idempotent")
			require.NoError(t, s.Append(ctx, "2626", record(8, "9123456789")))

			rows, err := ReadAll(s.Path("2626"))
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, ranges.RecordHeader, rows[0])
			assert.Equal(t, []string{"7", "2626 00007", "2026-04-01T10:00:00Z", "9876543210"}, rows[1])
			assert.Equal(t, "9123456789", rows[2][3])
		})
	}
}

func TestFileSink_AppendWithoutDestination(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), false)
	require.NoError(t, err)

	assert.Error(t, s.Append(context.Background(), "77", record(1, "9876543210")))
}

func TestFileSink_Paths(t *testing.T) {
	dir := t.TempDir()
	plain, _ := NewFileSink(dir, false)
	packed, _ := NewFileSink(dir, true)

	assert.Equal(t, filepath.Join(dir, "2626.csv"), plain.Path("2626"))
	assert.Equal(t, filepath.Join(dir, "2626.csv.zst"), packed.Path("2626"))
}

func TestDestinationName(t *testing.T) {
	assert.Equal(t, "2626", DestinationName(" 2626 "))
	assert.Equal(t, "AB-7", DestinationName("AB-7"))
	assert.True(t, strings.HasPrefix(DestinationName("a/b c"), "a_b_c_"))
	assert.Len(t, DestinationName("a/b c"), len("a_b_c_")+8)
	assert.True(t, strings.HasPrefix(DestinationName(""), "_"))

	long := strings.Repeat("9", 150)
	assert.Len(t, DestinationName(long), maxNameLength)
	assert.NotEqual(t, DestinationName(long), DestinationName(long[:149]+"8"))
}

func TestDestinationName_DistinctKeysNeverShareAName(t *testing.T) {
	keys := []string{"26 26", "26.26", "26/26", "26_26", "2626"}
	seen := make(map[string]string, len(keys))
	for _, k := range keys {
		name := DestinationName(k)
		prev, dup := seen[name]
		assert.False(t, dup, "%q and %q both map to %q", prev, k, name)
		seen[name] = k
	}
}

func TestFileSink_KeysThatSanitizeAlikeGetSeparateFiles(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSink(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	for _, key := range []string{"26 26", "26.26"} {
		require.NoError(t, s.EnsureDestination(ctx, key))
		require.NoError(t, s.Append(ctx, key, ranges.Record{Serial: 1, Identifier: key + " 1", Payload: "9876543210"}))
	}
	require.NotEqual(t, s.Path("26 26"), s.Path("26.26"))

	for _, key := range []string{"26 26", "26.26"} {
		rows, err := ReadAll(s.Path(key))
		require.NoError(t, err)
		require.Len(t, rows, 2, key)
		assert.Equal(t, key+" 1", rows[1][1])
	}
}

func TestNew(t *testing.T) {
	s, err := New(Config{Backend: BackendFile, Directory: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, s)

	_, err = New(Config{Backend: BackendPostgres}, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: "sheets"}, nil)
	assert.Error(t, err)
}
