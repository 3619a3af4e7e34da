package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDB(t *testing.T) {
	tests := []struct {
		name   string
		column *Column
		in     any
		want   any
	}{
		{"char", &Column{Name: "x", Kind: KindChar}, "abc", "abc"},
		{"char false", &Column{Name: "x", Kind: KindChar}, false, nil},
		{"char nil", &Column{Name: "x", Kind: KindChar}, nil, nil},
		{"char size", &Column{Name: "x", Kind: KindChar, Size: 3}, "héllo", "hél"},
		{"char nfc", &Column{Name: "x", Kind: KindChar}, "e\u0301", "\u00e9"},
		{"boolean false", &Column{Name: "x", Kind: KindBoolean}, false, false},
		{"boolean nil", &Column{Name: "x", Kind: KindBoolean}, nil, false},
		{"boolean int", &Column{Name: "x", Kind: KindBoolean}, int64(1), true},
		{"integer", &Column{Name: "x", Kind: KindInteger}, 42, int64(42)},
		{"integer float", &Column{Name: "x", Kind: KindInteger}, 42.0, int64(42)},
		{"float int", &Column{Name: "x", Kind: KindFloat}, int64(2), 2.0},
		{"many2one zero", &Column{Name: "x", Kind: KindMany2One}, int64(0), nil},
		{"date", &Column{Name: "x", Kind: KindDate}, "2024-03-01", "2024-03-01"},
		{"date time", &Column{Name: "x", Kind: KindDate}, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), "2024-03-01"},
		{"datetime rfc3339", &Column{Name: "x", Kind: KindDatetime}, "2024-03-01T10:11:12Z", "2024-03-01 10:11:12"},
		{"datetime date", &Column{Name: "x", Kind: KindDatetime}, "2024-03-01", "2024-03-01 00:00:00"},
		{"computed float", &Column{Name: "x", Kind: KindComputed, Type: KindFloat}, 1, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.column.ToDB("m", tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToDBMismatch(t *testing.T) {
	tests := []struct {
		name   string
		column *Column
		in     any
	}{
		{"char int", &Column{Name: "x", Kind: KindChar}, 1},
		{"char true", &Column{Name: "x", Kind: KindChar}, true},
		{"integer fraction", &Column{Name: "x", Kind: KindInteger}, 1.5},
		{"integer string", &Column{Name: "x", Kind: KindInteger}, "1"},
		{"boolean string", &Column{Name: "x", Kind: KindBoolean}, "yes"},
		{"date garbage", &Column{Name: "x", Kind: KindDate}, "01/03/2024"},
		{"datetime garbage", &Column{Name: "x", Kind: KindDatetime}, "noon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.column.ToDB("m", tt.in)
			require.Error(t, err)
			assert.True(t, IsTypeMismatch(err))
		})
	}
}

func TestFromDB(t *testing.T) {
	assert.Equal(t, true, (&Column{Kind: KindBoolean}).FromDB(int64(1)))
	assert.Equal(t, false, (&Column{Kind: KindBoolean}).FromDB(nil))
	assert.Equal(t, "2024-03-01", (&Column{Kind: KindDate}).FromDB("2024-03-01 00:00:00"))
	assert.Equal(t, "2024-03-01 10:11:12", (&Column{Kind: KindDatetime}).FromDB("2024-03-01T10:11:12Z"))
	assert.Equal(t, 3.0, (&Column{Kind: KindFloat}).FromDB(int64(3)))
	assert.Equal(t, int64(3), (&Column{Kind: KindInteger}).FromDB(3.0))
	assert.Equal(t, "x", (&Column{Kind: KindChar}).FromDB("x"))
}

func TestFormatStamp(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"2024-03-01 10:11:12.000345", "2024-03-01 10:11:12.000345"},
		{"2024-03-01 10:11:12", "2024-03-01 10:11:12.000000"},
		{"2024-03-01 10:11:12.5", "2024-03-01 10:11:12.500000"},
		{"2024-03-01T10:11:12.25Z", "2024-03-01 10:11:12.250000"},
		{[]byte("2024-03-01 10:11:12.000001"), "2024-03-01 10:11:12.000001"},
		{time.Date(2024, 3, 1, 10, 11, 12, 7000, time.UTC), "2024-03-01 10:11:12.000007"},
	}
	for _, tt := range tests {
		got, ok := FormatStamp(tt.in)
		require.True(t, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, ok := FormatStamp("yesterday")
	assert.False(t, ok)
	_, ok = FormatStamp(nil)
	assert.False(t, ok)
}

func TestAsIDs(t *testing.T) {
	ids, err := AsIDs([]any{int64(1), []any{int64(2), "Two"}, nil, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	ids, err = AsIDs(int64(7))
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)

	ids, err = AsIDs(false)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = AsIDs("x")
	assert.Error(t, err)
}
