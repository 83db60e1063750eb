// Package session holds the per-visitor conversation state: the current
// survey step, the collected profile, the accumulated message list, and the
// handle to the remote chat. Sessions live in memory only; the transcript
// store is the durable record.
package session

import (
	"errors"
	"sync"
	"time"
)

// Step identifies the stage of the survey flow a session is in.
type Step string

const (
	StepCollectingProfile Step = "collecting_profile"
	StepChatting          Step = "chatting"
	StepRating            Step = "rating"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrWrongStep is returned when an operation is attempted from a step
	// that does not allow it. Transitions are forward-only.
	ErrWrongStep = errors.New("operation not allowed in current step")
)

// Profile holds the demographic fields collected before chat begins.
// AgeGender and Location are the mandatory subset.
type Profile struct {
	AgeGender string `json:"age_gender" validate:"required"`
	Location  string `json:"location"  validate:"required"`
	Companion string `json:"companion"`
	Budget    string `json:"budget"`
}

// Empty reports whether no profile has been collected yet.
func (p Profile) Empty() bool {
	return p == Profile{}
}

// Message is one turn of dialogue. Ordinal position is append order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is the state record for one visitor. All methods are safe for
// concurrent use; compound transitions are atomic under the internal mutex.
type Session struct {
	ID string

	mu       sync.Mutex
	step     Step
	profile  Profile
	messages []Message
	admin    bool
	chat     any // opaque remote chat handle, owned by the driver
	created  time.Time
	lastSeen time.Time
}

// New returns a fresh session at the initial step.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		ID:       id,
		step:     StepCollectingProfile,
		created:  now,
		lastSeen: now,
	}
}

// Touch records visitor activity for idle-session reaping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Profile returns the collected profile (zero value until collected).
func (s *Session) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Messages returns a copy of the message sequence in append order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// StartChatting stores the validated profile and advances to the chat step.
// The profile is immutable for the rest of the session's lifetime.
func (s *Session) StartChatting(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepCollectingProfile {
		return ErrWrongStep
	}
	s.profile = p
	s.step = StepChatting
	return nil
}

// AttachChat stores the remote chat handle and appends the assistant's
// opening message. It fails if a chat is already attached.
func (s *Session) AttachChat(handle any, opening string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepChatting {
		return ErrWrongStep
	}
	if s.chat != nil {
		return errors.New("chat already attached")
	}
	s.chat = handle
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: opening})
	return nil
}

// Chat returns the attached remote chat handle, or nil before OpenChat.
func (s *Session) Chat() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// AppendUser appends a user message. It requires the chat step.
func (s *Session) AppendUser(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepChatting {
		return ErrWrongStep
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text})
	return nil
}

// AppendAssistant appends an assistant message. It requires the chat step.
func (s *Session) AppendAssistant(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepChatting {
		return ErrWrongStep
	}
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: text})
	return nil
}

// EndChat advances from chatting to rating. No other side effects.
func (s *Session) EndChat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepChatting {
		return ErrWrongStep
	}
	s.step = StepRating
	return nil
}

// RequireStep returns ErrWrongStep unless the session is at the given step.
func (s *Session) RequireStep(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != step {
		return ErrWrongStep
	}
	return nil
}

// Admin reports whether the admin-view flag is set.
func (s *Session) Admin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// SetAdmin toggles the admin-view flag.
func (s *Session) SetAdmin(v bool) {
	s.mu.Lock()
	s.admin = v
	s.mu.Unlock()
}

// Clear resets the session to its initial defaults, keeping only the ID.
// The profile, messages, chat handle, and admin flag are all discarded.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = StepCollectingProfile
	s.profile = Profile{}
	s.messages = nil
	s.chat = nil
	s.admin = false
	s.lastSeen = time.Now()
}
