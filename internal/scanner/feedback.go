package scanner

// FeedbackKind selects the sound/visual played after a decode is resolved.
type FeedbackKind int

const (
	FeedbackSuccess FeedbackKind = iota
	FeedbackAlreadyVerified
	FeedbackNotFound
	FeedbackWrongOffice
	FeedbackNotOnPage
	FeedbackError
)

func (k FeedbackKind) String() string {
	switch k {
	case FeedbackSuccess:
		return "success"
	case FeedbackAlreadyVerified:
		return "already-verified"
	case FeedbackNotFound:
		return "not-found"
	case FeedbackWrongOffice:
		return "wrong-office"
	case FeedbackNotOnPage:
		return "not-on-page"
	case FeedbackError:
		return "error"
	}
	return "unknown"
}

// Feedback plays the audio-visual cue for a resolved scan.
type Feedback interface {
	Play(kind FeedbackKind, message string)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(kind FeedbackKind, message string)

// Play calls f.
func (f FeedbackFunc) Play(kind FeedbackKind, message string) { f(kind, message) }

type nopFeedback struct{}

func (nopFeedback) Play(FeedbackKind, string) {}
