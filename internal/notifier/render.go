package notifier

import (
	"fmt"
	"strings"
	"time"

	"raidbot/internal/raidsvc"
	"raidbot/internal/reminder"
	"raidbot/internal/storage"
)

// NameFunc formats a user reference for the target platform.
type NameFunc func(userID int64) string

func plainName(userID int64) string { return fmt.Sprintf("user %d", userID) }

// Renderer builds the plain-text bodies the notifier sends.
type Renderer struct {
	name NameFunc
}

func NewRenderer(name NameFunc) *Renderer {
	if name == nil {
		name = plainName
	}
	return &Renderer{name: name}
}

// Roster renders the announcement block: header, one section per role with
// confirmed members in signup order, and a trailing waitlist.
func (r *Renderer) Roster(view raidsvc.RosterView) string {
	var b strings.Builder
	b.WriteString(view.Raid.Name)
	b.WriteString("\n")
	b.WriteString("starts ")
	b.WriteString(view.Raid.StartsAt.Format("Mon 02.01 15:04"))
	if view.Raid.Comment != "" {
		b.WriteString("\n")
		b.WriteString(view.Raid.Comment)
	}
	if view.Raid.Status == storage.RaidCancelled {
		b.WriteString("\nCANCELLED")
	}

	var waitlist []string
	for _, role := range view.Roles {
		fmt.Fprintf(&b, "\n\n%s [%d/%d]", role.Name, len(role.Confirmed), role.Capacity)
		for i, e := range role.Confirmed {
			fmt.Fprintf(&b, "\n%d. %s", i+1, r.name(e.UserID))
		}
		for _, e := range role.Waitlist {
			waitlist = append(waitlist, fmt.Sprintf("%s (%s)", r.name(e.UserID), role.Name))
		}
	}
	if len(waitlist) > 0 {
		b.WriteString("\n\nwaitlist:")
		for _, line := range waitlist {
			b.WriteString("\n- ")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Reminder renders the reminder.due notification.
func (r *Renderer) Reminder(due reminder.ReminderDue, raidName string) string {
	left := time.Duration(due.OffsetMinutes) * time.Minute
	return fmt.Sprintf("%s starts in %s (%s)",
		raidName, formatLeft(left), due.StartsAt.Format("15:04"))
}

// Promotion renders the personal slot-opened message.
func (r *Renderer) Promotion(raidName, role string, userID int64) string {
	return fmt.Sprintf("%s: a %s slot opened up, %s is in", raidName, role, r.name(userID))
}

// Demotion renders the capacity-cut message.
func (r *Renderer) Demotion(raidName, role string, userID int64) string {
	return fmt.Sprintf("%s: %s was moved back to the %s waitlist", raidName, r.name(userID), role)
}

// Created renders the new-raid announcement line.
func (r *Renderer) Created(p raidsvc.RaidCreated) string {
	return fmt.Sprintf("new raid: %s on %s", p.Name, p.StartsAt.Format("Mon 02.01 15:04"))
}

// Cancelled renders the raid-cancelled line.
func (r *Renderer) Cancelled(p raidsvc.RaidCancelled) string {
	return fmt.Sprintf("raid cancelled: %s", p.Name)
}

func formatLeft(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	if d >= time.Hour {
		return fmt.Sprintf("%dh %dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
