package state

import "testing"

func TestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    State
		want int
	}{
		{StateQueued, 0},
		{StateProcessing, 1},
		{StateSynthesized, 2},
		{StateUploaded, 3},
		{StateCompleted, 4},
		{StateFailed, -1},
		{StateCancelled, -1},
		{Unknown, -1},
	}

	for _, tt := range tests {
		if got := tt.s.Rank(); got != tt.want {
			t.Errorf("Rank(%s) = %d, want %d", tt.s, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []State{StateCompleted, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	nonTerminal := []State{Unknown, StateQueued, StateProcessing, StateSynthesized, StateUploaded}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestFromRemoteStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   State
		ok     bool
	}{
		{"pending", StateQueued, true},
		{"processing", StateProcessing, true},
		{"completed", StateCompleted, true},
		{"failed", StateFailed, true},
		{"cancelled", StateCancelled, true},
		{"synthesizing_v2", Unknown, false},
		{"", Unknown, false},
	}

	for _, tt := range tests {
		got, ok := FromRemoteStatus(tt.status)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FromRemoteStatus(%q) = (%s, %v), want (%s, %v)", tt.status, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFromWebhookEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event string
		want  State
		ok    bool
	}{
		{"tts_queued", StateQueued, true},
		{"tts_started", StateProcessing, true},
		{"tts_synthesized", StateSynthesized, true},
		{"tts_uploaded", StateUploaded, true},
		{"tts_delivered", StateCompleted, true},
		{"tts_failed", StateFailed, true},
		{"tts_transcoded", Unknown, false},
	}

	for _, tt := range tests {
		got, ok := FromWebhookEvent(tt.event)
		if ok != tt.ok {
			t.Errorf("FromWebhookEvent(%q) ok = %v, want %v", tt.event, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("FromWebhookEvent(%q) = %s, want %s", tt.event, got, tt.want)
		}
	}
}

func TestPayloadArtifactURL(t *testing.T) {
	t.Parallel()

	p := Payload{S3URL: "https://s3/x.mp3"}
	if got := p.ArtifactURL(); got != "https://s3/x.mp3" {
		t.Errorf("ArtifactURL() = %q, want s3 url", got)
	}

	p.AudioFileURL = "https://cdn/x.mp3"
	if got := p.ArtifactURL(); got != "https://cdn/x.mp3" {
		t.Errorf("ArtifactURL() = %q, want direct file url to win", got)
	}
}

func TestRecordClone(t *testing.T) {
	t.Parallel()

	r := NewRecord("job-1")
	r.History = append(r.History, NewEvent("job-1", StateQueued, Payload{}, SourcePoll))

	cp := r.Clone()
	cp.History = append(cp.History, NewEvent("job-1", StateProcessing, Payload{}, SourcePoll))
	cp.CurrentState = StateProcessing

	if len(r.History) != 1 {
		t.Errorf("clone mutated original history, len = %d", len(r.History))
	}
	if r.CurrentState != Unknown {
		t.Errorf("clone mutated original state: %s", r.CurrentState)
	}
}
