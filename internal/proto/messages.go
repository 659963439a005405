package proto

// StatusLine is the JSON form of a relay status line as published to Redis
// for remote operator displays.
type StatusLine struct {
	TS      string `json:"ts"`
	Session string `json:"session,omitempty"`
	Event   string `json:"event"`
	Remote  string `json:"remote,omitempty"`
	Text    string `json:"text"`
	Line    string `json:"line"`
}
