package api

import "encoding/json"

// Skill is a user-authored tool. Content is opaque source text.
type Skill struct {
	ID          string `json:"id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Content     string `json:"content,omitempty"`
	Approved    bool   `json:"approved,omitempty"`
}

// Agent is an agent configuration.
type Agent struct {
	ID           string   `json:"id,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	FilesFolder  string   `json:"files_folder,omitempty"`
	Skills       []string `json:"skills,omitempty"`
}

// Agency is a team of agents, called a workflow by end users.
type Agency struct {
	ID                 string          `json:"id,omitempty"`
	UserID             string          `json:"user_id,omitempty"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	SharedInstructions string          `json:"shared_instructions,omitempty"`
	MainAgent          string          `json:"main_agent,omitempty"`
	AgencyChart        json.RawMessage `json:"agency_chart,omitempty"`
	Timestamp          string          `json:"timestamp,omitempty"`
}

// Session is one conversation with an agency.
type Session struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	AgencyID  string `json:"agency_id"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// Message is a stored conversation entry.
type Message struct {
	ID        string `json:"id,omitempty"`
	AgencyID  string `json:"agency_id,omitempty"`
	SessionID string `json:"session_id"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CreatedSession is returned by CreateSession.
type CreatedSession struct {
	SessionID string `json:"session_id"`
}

// SkillExecution asks the backend to run a skill.
type SkillExecution struct {
	ID         string          `json:"id"`
	UserPrompt string          `json:"user_prompt,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Profile is the signed-in user's profile. Fields beyond the identity are opaque.
type Profile struct {
	ID     string          `json:"id,omitempty"`
	Email  string          `json:"email,omitempty"`
	Name   string          `json:"name,omitempty"`
	Extras json.RawMessage `json:"extras,omitempty"`
}

// Version describes the backend build.
type Version struct {
	Version string `json:"version"`
}
