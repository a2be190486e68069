package lastfm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/playback"
	"github.com/llehouerou/waves-connect/internal/state"
)

// fakeSubmitter records submissions. Scrobbles fail while fail is set.
type fakeSubmitter struct {
	mu         sync.Mutex
	nowPlaying []ScrobbleTrack
	scrobbles  []ScrobbleTrack
	fail       error
}

func (f *fakeSubmitter) UpdateNowPlaying(track ScrobbleTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowPlaying = append(f.nowPlaying, track)
	return nil
}

func (f *fakeSubmitter) Scrobble(track ScrobbleTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.scrobbles = append(f.scrobbles, track)
	return nil
}

func (f *fakeSubmitter) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeSubmitter) scrobbled() []ScrobbleTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ScrobbleTrack(nil), f.scrobbles...)
}

func play(title string, duration time.Duration) playback.PlayEvent {
	return playback.PlayEvent{Track: &playback.Track{
		URI:      "spotify:track:" + title,
		Title:    title,
		Artist:   "Artist",
		Album:    "Album",
		Duration: duration,
	}}
}

func newTestScrobbler() (*Scrobbler, *fakeSubmitter, *state.Mock) {
	client := &fakeSubmitter{}
	queue := state.NewMock()
	return NewScrobbler(client, queue, zerolog.Nop()), client, queue
}

func TestScrobbleThreshold(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     time.Duration
		ok       bool
	}{
		{29 * time.Second, 0, false},
		{30 * time.Second, 15 * time.Second, true},
		{3 * time.Minute, 90 * time.Second, true},
		{8 * time.Minute, 4 * time.Minute, true},
		{20 * time.Minute, 4 * time.Minute, true},
	}
	for _, tt := range tests {
		got, ok := scrobbleThreshold(tt.duration)
		if got != tt.want || ok != tt.ok {
			t.Errorf("scrobbleThreshold(%v) = (%v, %v), want (%v, %v)", tt.duration, got, ok, tt.want, tt.ok)
		}
	}
}

func TestScrobbler_ScrobblesPreviousTrackOnPlay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s, client, _ := newTestScrobbler()
		started := time.Now()

		s.HandleEvent(play("A", 3*time.Minute))
		time.Sleep(100 * time.Second)
		s.HandleEvent(play("B", 3*time.Minute))

		got := client.scrobbled()
		if len(got) != 1 {
			t.Fatalf("scrobbles = %d, want 1", len(got))
		}
		if got[0].Track != "A" || got[0].Artist != "Artist" || got[0].Album != "Album" {
			t.Errorf("scrobbled %+v, want track A", got[0])
		}
		if !got[0].Timestamp.Equal(started) {
			t.Errorf("Timestamp = %v, want playback start %v", got[0].Timestamp, started)
		}
		if len(client.nowPlaying) != 2 {
			t.Errorf("now playing updates = %d, want 2", len(client.nowPlaying))
		}
	})
}

func TestScrobbler_Thresholds(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		listen   time.Duration
		want     int
	}{
		{"under half", 3 * time.Minute, 60 * time.Second, 0},
		{"exactly half", 3 * time.Minute, 90 * time.Second, 1},
		{"four minute cap", 20 * time.Minute, 4 * time.Minute, 1},
		{"short track", 20 * time.Second, 20 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				s, client, _ := newTestScrobbler()

				s.HandleEvent(play("A", tt.duration))
				time.Sleep(tt.listen)
				s.HandleEvent(playback.StopEvent{})

				if got := len(client.scrobbled()); got != tt.want {
					t.Errorf("scrobbles = %d, want %d", got, tt.want)
				}
			})
		})
	}
}

func TestScrobbler_PauseSuspendsTiming(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s, client, _ := newTestScrobbler()

		s.HandleEvent(play("A", 3*time.Minute))
		time.Sleep(60 * time.Second)
		s.HandleEvent(playback.PauseEvent{})
		time.Sleep(10 * time.Minute)
		s.HandleEvent(playback.ResumeEvent{})
		time.Sleep(20 * time.Second)
		s.HandleEvent(playback.StopEvent{})

		if got := len(client.scrobbled()); got != 0 {
			t.Fatalf("scrobbled after 80s of listening, want none")
		}

		s.HandleEvent(play("B", 3*time.Minute))
		time.Sleep(60 * time.Second)
		s.HandleEvent(playback.PauseEvent{})
		s.HandleEvent(playback.PauseEvent{})
		time.Sleep(time.Minute)
		s.HandleEvent(playback.ResumeEvent{})
		s.HandleEvent(playback.ResumeEvent{})
		time.Sleep(31 * time.Second)
		s.HandleEvent(playback.StopEvent{})

		got := client.scrobbled()
		if len(got) != 1 || got[0].Track != "B" {
			t.Errorf("scrobbles = %+v, want track B", got)
		}
	})
}

func TestScrobbler_StartedPaused(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s, client, _ := newTestScrobbler()

		ev := play("A", 3*time.Minute)
		ev.Paused = true
		s.HandleEvent(ev)
		time.Sleep(10 * time.Minute)
		s.HandleEvent(playback.StopEvent{})

		if got := len(client.scrobbled()); got != 0 {
			t.Errorf("scrobbles = %d, want 0 for a track that never played", got)
		}
	})
}

func TestScrobbler_IgnoresTracksWithoutMetadata(t *testing.T) {
	s, client, _ := newTestScrobbler()

	s.HandleEvent(playback.PlayEvent{})
	s.HandleEvent(playback.PlayEvent{Track: &playback.Track{Title: "no artist", Duration: time.Minute}})

	if len(client.nowPlaying) != 0 {
		t.Errorf("now playing updates = %d, want 0", len(client.nowPlaying))
	}
}

func TestScrobbler_FailedScrobbleIsQueued(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s, client, queue := newTestScrobbler()
		client.setFail(errors.New("network down"))

		s.HandleEvent(play("A", 3*time.Minute))
		time.Sleep(2 * time.Minute)
		s.Flush()

		pending, _ := queue.GetPendingScrobbles()
		if len(pending) != 1 {
			t.Fatalf("pending = %d, want 1", len(pending))
		}
		if pending[0].Track != "A" || pending[0].DurationSecs != 180 {
			t.Errorf("pending = %+v", pending[0])
		}

		// Still failing: the attempt is counted
		succeeded, failed, err := s.RetryPending()
		if err != nil || succeeded != 0 || failed != 1 {
			t.Errorf("RetryPending() = (%d, %d, %v), want (0, 1, nil)", succeeded, failed, err)
		}
		pending, _ = queue.GetPendingScrobbles()
		if pending[0].Attempts != 1 || pending[0].LastError != "network down" {
			t.Errorf("attempt not recorded: %+v", pending[0])
		}

		client.setFail(nil)
		succeeded, failed, err = s.RetryPending()
		if err != nil || succeeded != 1 || failed != 0 {
			t.Errorf("RetryPending() = (%d, %d, %v), want (1, 0, nil)", succeeded, failed, err)
		}
		if pending, _ = queue.GetPendingScrobbles(); len(pending) != 0 {
			t.Errorf("pending = %d after successful retry, want 0", len(pending))
		}
	})
}

func TestScrobbler_RetrySkipsExhausted(t *testing.T) {
	s, client, queue := newTestScrobbler()
	_ = queue.AddPendingScrobble(state.PendingScrobble{Artist: "A", Track: "T"})
	pending, _ := queue.GetPendingScrobbles()
	for range maxAttempts {
		_ = queue.UpdatePendingScrobbleAttempt(pending[0].ID, "boom")
	}

	succeeded, failed, err := s.RetryPending()
	if err != nil || succeeded != 0 || failed != 0 {
		t.Errorf("RetryPending() = (%d, %d, %v), want (0, 0, nil)", succeeded, failed, err)
	}
	if len(client.scrobbled()) != 0 {
		t.Error("exhausted entry was resubmitted")
	}
}

// brokenQueue fails every write after the entries were read.
type brokenQueue struct {
	*state.Mock
}

func (brokenQueue) DeletePendingScrobble(int64) error {
	return errors.New("database is locked")
}

func (brokenQueue) UpdatePendingScrobbleAttempt(int64, string) error {
	return errors.New("database is locked")
}

func TestScrobbler_RetryLogsQueueErrors(t *testing.T) {
	queue := brokenQueue{state.NewMock()}
	_ = queue.AddPendingScrobble(state.PendingScrobble{Artist: "A", Track: "ok"})
	_ = queue.AddPendingScrobble(state.PendingScrobble{Artist: "A", Track: "fails"})

	client := &failingFor{track: "fails"}
	var buf bytes.Buffer
	s := NewScrobbler(client, queue, zerolog.New(&buf))

	succeeded, failed, err := s.RetryPending()
	if err != nil || succeeded != 1 || failed != 1 {
		t.Fatalf("RetryPending() = (%d, %d, %v), want (1, 1, nil)", succeeded, failed, err)
	}

	out := buf.String()
	for _, msg := range []string{"delete pending scrobble", "record scrobble attempt"} {
		if !strings.Contains(out, msg) {
			t.Errorf("log missing %q: %s", msg, out)
		}
	}
	if !strings.Contains(out, "database is locked") {
		t.Errorf("log missing queue error: %s", out)
	}
}

// failingFor rejects scrobbles of one track.
type failingFor struct {
	fakeSubmitter
	track string
}

func (f *failingFor) Scrobble(track ScrobbleTrack) error {
	if track.Track == f.track {
		return errors.New("rejected")
	}
	return f.fakeSubmitter.Scrobble(track)
}

func TestScrobbler_Run(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s, client, queue := newTestScrobbler()
		_ = queue.AddPendingScrobble(state.PendingScrobble{Artist: "Old", Track: "Queued"})

		events := make(chan playback.Event, 4)
		done := make(chan struct{})
		sub := &playback.Subscription{Events: events, Done: done}

		result := make(chan error, 1)
		go func() { result <- s.Run(context.Background(), sub) }()

		events <- play("A", 3*time.Minute)
		time.Sleep(RetryInterval)
		synctest.Wait()

		got := client.scrobbled()
		if len(got) != 1 || got[0].Track != "Queued" {
			t.Fatalf("scrobbles = %+v, want the queued entry retried", got)
		}

		// Closing the subscription flushes the track being played
		close(done)
		if err := <-result; err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
		got = client.scrobbled()
		if len(got) != 2 || got[1].Track != "A" {
			t.Errorf("scrobbles = %+v, want A flushed on close", got)
		}
	})
}

func TestScrobbler_RunStopsOnContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s, _, _ := newTestScrobbler()
		sub := &playback.Subscription{Events: make(chan playback.Event), Done: make(chan struct{})}

		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() { result <- s.Run(ctx, sub) }()

		cancel()
		if err := <-result; !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	})
}
