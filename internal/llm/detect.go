package llm

import "fmt"

// Settings selects and configures a Generator backend.
type Settings struct {
	Provider string // ollama, openai or none
	BaseURL  string
	Model    string
	APIKey   string
}

// New returns the Generator for s.Provider.
func New(s Settings) (Generator, error) {
	switch s.Provider {
	case "ollama", "":
		return NewOllama(s.BaseURL, s.Model), nil
	case "openai":
		return NewOpenAI(s.BaseURL, s.APIKey, s.Model), nil
	case "none":
		return Unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}
