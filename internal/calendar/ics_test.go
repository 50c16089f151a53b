package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicbot/internal/types"
)

func decode(t *testing.T, data []byte) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	require.NoError(t, err)
	return cal
}

func TestEncode(t *testing.T) {
	events := []types.EventEntity{
		{Title: "Feria de Abril", Date: "2025-05-04", EndDate: "2025-05-10", Location: "Real de la Feria",
			SourceURL: "https://sevilla.example/feria", SourceTitle: "Ayuntamiento"},
		{Title: "Concierto", Date: "2025-06-13", Time: "21:30"},
		{Title: "Roto", Date: "pronto"},
	}
	madrid := time.FixedZone("CEST", 2*60*60)

	var buf bytes.Buffer
	err := Encode(&buf, events, Options{Name: "Agenda Sevilla", Location: madrid, Now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	cal := decode(t, buf.Bytes())
	assert.Equal(t, "Agenda Sevilla", cal.Props.Get("X-WR-CALNAME").Value)

	vevents := cal.Events()
	require.Len(t, vevents, 2)

	feria := vevents[0]
	summary, err := feria.Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Feria de Abril", summary)
	assert.Equal(t, "20250504", feria.Props.Get(ical.PropDateTimeStart).Value)
	assert.Equal(t, "20250511", feria.Props.Get(ical.PropDateTimeEnd).Value, "DTEND is exclusive")
	assert.Equal(t, "https://sevilla.example/feria", feria.Props.Get(ical.PropURL).Value)
	assert.NotNil(t, feria.Props.Get(ical.PropLocation))

	concierto := vevents[1]
	assert.Equal(t, "20250613T193000Z", concierto.Props.Get(ical.PropDateTimeStart).Value)
	start, err := concierto.DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 21, start.In(madrid).Hour())
	assert.Equal(t, 30, start.In(madrid).Minute())
	assert.Nil(t, concierto.Props.Get(ical.PropDateTimeEnd))
}

func TestEncode_NoEvents(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, nil, Options{}), ErrNoEvents)
	assert.ErrorIs(t, Encode(&buf, []types.EventEntity{{Title: "x", Date: "?"}}, Options{}), ErrNoEvents)
	assert.Zero(t, buf.Len())
}

func TestUID_Stable(t *testing.T) {
	a := UID(types.EventEntity{Title: "Feria", Date: "2025-05-04"})
	b := UID(types.EventEntity{Title: " FERIA ", Date: "2025-05-04", Location: "elsewhere"})
	c := UID(types.EventEntity{Title: "Feria", Date: "2025-05-05"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasSuffix(a, "@civicbot"))
}

func TestParseClock(t *testing.T) {
	for _, in := range []string{"20:00", "9:30", "20.15"} {
		_, ok := parseClock(in)
		assert.True(t, ok, in)
	}
	_, ok := parseClock("por la tarde")
	assert.False(t, ok)
}
