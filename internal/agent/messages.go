package agent

// Message types exchanged with the voice-agent endpoint. Text frames
// carry one of these JSON shapes; binary frames carry agent audio.
const (
	MsgTypeWelcome              = "Welcome"
	MsgTypeSettings             = "Settings"
	MsgTypeSettingsApplied      = "SettingsApplied"
	MsgTypeConversationText     = "ConversationText"
	MsgTypeAgentThinking        = "AgentThinking"
	MsgTypeAgentAudioDone       = "AgentAudioDone"
	MsgTypeAgentStartedSpeaking = "AgentStartedSpeaking"
	MsgTypeUserStartedSpeaking  = "UserStartedSpeaking"
	MsgTypeError                = "Error"
)

// baseMessage is the envelope every structured inbound message carries
type baseMessage struct {
	Type string `json:"type"`
}

// conversationText is an utterance attributed to one side of the call
type conversationText struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// agentThinking carries incremental reasoning text for UI display only
type agentThinking struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type errorMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
}

// settingsMessage configures the agent's audio formats, speech
// recognition, speech synthesis and think provider.
type settingsMessage struct {
	Type  string        `json:"type"`
	Audio audioSettings `json:"audio"`
	Agent agentSettings `json:"agent"`
}

type audioSettings struct {
	Input  audioFormat `json:"input"`
	Output audioFormat `json:"output"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type agentSettings struct {
	Listen   listenSettings `json:"listen"`
	Think    thinkSettings  `json:"think"`
	Speak    speakSettings  `json:"speak"`
	Greeting string         `json:"greeting,omitempty"`
}

type listenSettings struct {
	Provider providerRef `json:"provider"`
}

type speakSettings struct {
	Provider providerRef `json:"provider"`
}

type thinkSettings struct {
	Provider providerRef    `json:"provider"`
	Endpoint *thinkEndpoint `json:"endpoint,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
}

type providerRef struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

type thinkEndpoint struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}
