package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    Date
		wantErr bool
	}{
		{in: "2024-01-02", want: Date{2024, time.January, 2}},
		{in: "2024-02-29T23:30:00Z", want: Date{2024, time.February, 29}},
		{in: "2024-03-01T01:00:00+02:00", want: Date{2024, time.February, 29}},
		{in: "2024-13-01", wantErr: true},
		{in: "yesterday", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateJSON(t *testing.T) {
	d := MustParseDate("2024-01-05")

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-01-05"`, string(data))

	var back Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-05T10:00:00Z"`), &back))
	assert.Equal(t, d, back)

	assert.Error(t, json.Unmarshal([]byte(`20240105`), &back))
}

func TestDateScan(t *testing.T) {
	want := Date{2023, time.December, 31}

	var d Date
	require.NoError(t, d.Scan(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, want, d)

	require.NoError(t, d.Scan("2023-12-31"))
	assert.Equal(t, want, d)

	require.NoError(t, d.Scan([]byte("2023-12-31 00:00:00+00:00")))
	assert.Equal(t, want, d)

	assert.Error(t, d.Scan(42))

	v, err := want.Value()
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", v)
}

func TestDateCompare(t *testing.T) {
	a := MustParseDate("2024-01-01")
	b := MustParseDate("2024-01-02")
	c := MustParseDate("2023-12-31")

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, a.Compare(c))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, Date{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestUpdateTodoRequestApply(t *testing.T) {
	text := "renamed"
	done := true
	req := UpdateTodoRequest{Text: &text, Completed: &done}

	todo := Todo{ID: 1, Text: "old", Date: MustParseDate("2024-01-01"), DisplayOrder: 3}
	req.Apply(&todo)

	assert.Equal(t, "renamed", todo.Text)
	assert.True(t, todo.Completed)
	assert.Equal(t, 3, todo.DisplayOrder)
	assert.Equal(t, map[string]any{"text": "renamed", "completed": true}, req.Columns())
}
