package request

// Settings are the sampling parameters applied to every request. Negative
// Seed and MaxTokens mean "unset" and are omitted from the wire body.
type Settings struct {
	Model            string   `json:"model" yaml:"model"`
	Seed             int      `json:"seed" yaml:"seed"`
	Temperature      float64  `json:"temperature" yaml:"temperature"`
	TopP             float64  `json:"topP" yaml:"topP"`
	FrequencyPenalty float64  `json:"frequencyPenalty" yaml:"frequencyPenalty"`
	PresencePenalty  float64  `json:"presencePenalty" yaml:"presencePenalty"`
	MaxTokens        int      `json:"maxTokens" yaml:"maxTokens"`
	Stop             []string `json:"stop" yaml:"stop"`
	JSONMode         bool     `json:"jsonMode" yaml:"jsonMode"`
	Stream           bool     `json:"stream" yaml:"stream"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		Model:            "",
		Seed:             -1,
		Temperature:      0.5,
		TopP:             1,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
		MaxTokens:        -1,
		Stop:             []string{},
		JSONMode:         false,
		Stream:           true,
	}
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	out := s
	out.Stop = append([]string{}, s.Stop...)
	return out
}

// Equal compares settings field by field. A nil and an empty stop list are equal.
func (s Settings) Equal(o Settings) bool {
	if s.Model != o.Model || s.Seed != o.Seed || s.Temperature != o.Temperature ||
		s.TopP != o.TopP || s.FrequencyPenalty != o.FrequencyPenalty ||
		s.PresencePenalty != o.PresencePenalty || s.MaxTokens != o.MaxTokens ||
		s.JSONMode != o.JSONMode || s.Stream != o.Stream {
		return false
	}
	if len(s.Stop) != len(o.Stop) {
		return false
	}
	for i := range s.Stop {
		if s.Stop[i] != o.Stop[i] {
			return false
		}
	}
	return true
}
