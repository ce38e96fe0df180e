package appointment

// MeetingLinkPrefix is prepended to the appointment id to form the call URL.
const MeetingLinkPrefix = "/call/"

// ApplyHooks runs the side effects tied to a status. An online appointment
// that is Accepted without a meeting link gets one. It reports whether a
// field changed.
func ApplyHooks(a *Appointment) bool {
	if a.Status == StatusAccepted && a.VisitType == VisitOnline && a.MeetingLink == "" {
		a.MeetingLink = MeetingLinkPrefix + a.ID
		return true
	}
	return false
}
