package sanitize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicbot/internal/articulation"
	"civicbot/internal/types"
)

func fixedClock(s string) func() time.Time {
	t := day(s).Add(15 * time.Hour)
	return func() time.Time { return t }
}

func TestSanitizer_Sanitize(t *testing.T) {
	s := New(Options{
		Clock:    fixedClock("2025-06-10"),
		DropPast: true,
		Locality: "Sevilla",
		Resolver: PlaceResolverFunc(func(_ context.Context, name, _ string) (string, error) {
			if name == "Museo" {
				return "ChIJmuseo", nil
			}
			return "", nil
		}),
	})

	ex := &articulation.Extraction{
		DisplayText: "Esto es lo que hay:",
		Events: []types.EventEntity{
			{Title: "Feria", Date: "2025-06-13"},
			{Title: "Feria", Date: "2025-06-14"},
			{Title: "Pasado", Date: "2025-06-01"},
			{Title: "Antiguo", Date: "2024-06-14"},
		},
		Places: []types.PlaceEntity{
			{Name: "Museo", SearchQuery: "Museo"},
			{Name: "Inventado", SearchQuery: "Inventado"},
		},
		MapQuery:      "Museo, Sevilla",
		TelematicLink: &types.TelematicLink{URL: "https://sede.example/tramite", Text: "Sede"},
	}

	seen := keySet{}
	res := s.Sanitize(context.Background(), ex, seen, WindowThisWeekend)

	msg := res.Message
	assert.Equal(t, "Esto es lo que hay:", msg.Text)
	require.Len(t, msg.Events, 1)
	assert.Equal(t, "2025-06-13", msg.Events[0].Date)
	assert.Equal(t, "2025-06-14", msg.Events[0].EndDate)
	assert.False(t, msg.HasMoreEvents)
	require.Len(t, msg.Places, 1)
	assert.Equal(t, "ChIJmuseo", msg.Places[0].PlaceID)
	assert.Equal(t, "Museo, Sevilla", msg.MapQuery)
	assert.NotNil(t, msg.TelematicLink)

	require.NotNil(t, res.Window)
	assert.Equal(t, "2025-06-13..2025-06-15", res.Window.String())
	assert.ElementsMatch(t, []string{"feria+2025-06-13", "feria+2025-06-14"}, res.NewlySeenKeys)
	assert.Len(t, seen, 2)
}

func TestSanitizer_EmptySlicesNeverNil(t *testing.T) {
	s := New(Options{Clock: fixedClock("2025-06-10")})
	res := s.Sanitize(context.Background(), &articulation.Extraction{DisplayText: "Hola"}, keySet{}, WindowNone)

	assert.NotNil(t, res.Message.Events)
	assert.NotNil(t, res.Message.Places)
	assert.Nil(t, res.Window)
	assert.False(t, res.Message.HasStructuredContent())
}

func TestSanitizer_TodayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	clock := func() time.Time { return time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC) }

	s := New(Options{Clock: clock, Location: loc})
	assert.Equal(t, "2025-06-11", types.FormatDay(s.Today()))
}

func TestSanitizer_FixedYear(t *testing.T) {
	s := New(Options{Clock: fixedClock("2025-06-10"), Year: 2026})
	ex := &articulation.Extraction{Events: []types.EventEntity{
		{Title: "Este año", Date: "2025-07-01"},
		{Title: "Próximo", Date: "2026-07-01"},
	}}

	res := s.Sanitize(context.Background(), ex, nil, WindowNone)
	require.Len(t, res.Message.Events, 1)
	assert.Equal(t, "Próximo", res.Message.Events[0].Title)
}

func TestSanitizer_SetLocality(t *testing.T) {
	var hints []string
	s := New(Options{
		Clock:    fixedClock("2025-06-10"),
		Locality: "Sevilla",
		Resolver: PlaceResolverFunc(func(_ context.Context, _, hint string) (string, error) {
			hints = append(hints, hint)
			return "id", nil
		}),
	})
	// One place per call keeps hints ordered.
	ex := &articulation.Extraction{Places: []types.PlaceEntity{{Name: "Museo", SearchQuery: "Museo"}}}

	s.Sanitize(context.Background(), ex, nil, WindowNone)
	s.SetLocality("Triana")
	res := s.Sanitize(context.Background(), ex, nil, WindowNone)

	assert.Equal(t, "Triana", s.Locality())
	assert.Equal(t, []string{"Museo, Sevilla", "Museo, Triana"}, hints)
	assert.Equal(t, "Museo, Triana", res.Message.Places[0].SearchQuery)
}
