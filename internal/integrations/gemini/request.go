package gemini

// Tool names understood by the model backend.
const (
	ToolGoogleSearch = "google_search"
	ToolURLContext   = "url_context"
)

// Request is one model call.
type Request struct {
	Input                 string
	SystemInstructions    string
	MaxOutputTokens       int
	Temperature           float64
	PreviousInteractionID string
	Tools                 []string
}

// Result is a successful model call. InteractionID is empty for backends
// without server-side conversation state.
type Result struct {
	Text          string
	InteractionID string
}
