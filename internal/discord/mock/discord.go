// Package mock provides test doubles for the Discord front-end.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder records interaction responses for test assertions.
type Responder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Err is returned by InteractionRespond when non-nil.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *Responder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// LastContent returns the content of the most recent response, or "".
func (m *Responder) LastContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 || m.Responses[len(m.Responses)-1].Data == nil {
		return ""
	}
	return m.Responses[len(m.Responses)-1].Data.Content
}

// Message is one recorded ChannelMessageSend call.
type Message struct {
	ChannelID string
	Content   string
}

// Sender records channel messages.
type Sender struct {
	mu sync.Mutex

	// Messages records all ChannelMessageSend calls.
	Messages []Message

	// Err is returned by ChannelMessageSend when non-nil.
	Err error
}

// ChannelMessageSend records the message and returns a stub.
func (m *Sender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, Message{ChannelID: channelID, Content: content})
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-message", ChannelID: channelID, Content: content}, nil
}

// Contents returns the content of every recorded message in order.
func (m *Sender) Contents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Messages))
	for i, msg := range m.Messages {
		out[i] = msg.Content
	}
	return out
}
