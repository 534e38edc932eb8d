// Package calendar creates interview bookings in the user's calendar.
package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"outreach-dispatch-go/internal/credential"
)

// EventSpec describes one calendar event to create.
type EventSpec struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	Duration    time.Duration
	Attendees   []string
}

// Calendar creates events on behalf of a user.
type Calendar interface {
	CreateEvent(ctx context.Context, cred *credential.Credential, spec EventSpec) (string, error)
}

// GoogleCalendar implements Calendar against the Google Calendar API.
type GoogleCalendar struct{}

// NewGoogleCalendar creates a Google Calendar client.
func NewGoogleCalendar() *GoogleCalendar {
	return &GoogleCalendar{}
}

// CreateEvent implements Calendar, booking on the user's primary
// calendar.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, cred *credential.Credential, spec EventSpec) (string, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	service, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return "", fmt.Errorf("failed to create Calendar service: %w", err)
	}

	if spec.Duration <= 0 {
		spec.Duration = 30 * time.Minute
	}

	event := &calendar.Event{
		Summary:     spec.Summary,
		Description: spec.Description,
		Location:    spec.Location,
		Start:       &calendar.EventDateTime{DateTime: spec.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: spec.Start.Add(spec.Duration).Format(time.RFC3339)},
	}
	for _, a := range spec.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: a})
	}

	created, err := service.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar event: %w", err)
	}
	return created.Id, nil
}
