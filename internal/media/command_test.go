package media

import (
	"errors"
	"testing"
)

func TestParseCommand_Audio(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Command
		wantErr bool
	}{
		{
			name: "play",
			raw:  "PLAY:whispers.mp3",
			want: Command{Op: OpPlay, File: "whispers.mp3", Volume: -1},
		},
		{
			name: "play with volume",
			raw:  "PLAY:whispers.mp3:70",
			want: Command{Op: OpPlay, File: "whispers.mp3", Volume: 70},
		},
		{
			name: "play volume zero",
			raw:  "PLAY:silence.mp3:0",
			want: Command{Op: OpPlay, File: "silence.mp3", Volume: 0},
		},
		{
			name: "stop all",
			raw:  "STOP",
			want: Command{Op: OpStop, Volume: -1},
		},
		{
			name: "stop targeted",
			raw:  "STOP:whispers.mp3",
			want: Command{Op: OpStopFile, File: "whispers.mp3", Volume: -1},
		},
		{
			name: "pause",
			raw:  "PAUSE",
			want: Command{Op: OpPause, Volume: -1},
		},
		{
			name: "resume",
			raw:  "RESUME",
			want: Command{Op: OpResume, Volume: -1},
		},
		{
			name: "volume",
			raw:  "VOLUME:45",
			want: Command{Op: OpVolume, Volume: 45},
		},
		{
			name: "surrounding whitespace",
			raw:  "  STOP  ",
			want: Command{Op: OpStop, Volume: -1},
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "unknown verb", raw: "REWIND:5", wantErr: true},
		{name: "lowercase verb", raw: "play:x.mp3", wantErr: true},
		{name: "play without file", raw: "PLAY", wantErr: true},
		{name: "play empty file", raw: "PLAY:", wantErr: true},
		{name: "volume out of range", raw: "VOLUME:150", wantErr: true},
		{name: "volume negative", raw: "VOLUME:-5", wantErr: true},
		{name: "volume not a number", raw: "VOLUME:loud", wantErr: true},
		{name: "play volume out of range", raw: "PLAY:x.mp3:101", wantErr: true},
		{name: "video verb on audio lane", raw: "PLAY_VIDEO:x.mp4", wantErr: true},
		{name: "seek on audio lane", raw: "SEEK:10", wantErr: true},
		{name: "pause with argument", raw: "PAUSE:now", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(LaneAudio, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrBadCommand) {
					t.Errorf("expected ErrBadCommand, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseCommand_Video(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Command
		wantErr bool
	}{
		{
			name: "play_video",
			raw:  "PLAY_VIDEO:apparition.mp4",
			want: Command{Op: OpPlay, File: "apparition.mp4", Volume: -1},
		},
		{
			name: "plain play",
			raw:  "PLAY:apparition.mp4",
			want: Command{Op: OpPlay, File: "apparition.mp4", Volume: -1},
		},
		{
			name: "stop_video",
			raw:  "STOP_VIDEO",
			want: Command{Op: OpStop, Volume: -1},
		},
		{
			name: "plain stop",
			raw:  "STOP",
			want: Command{Op: OpStop, Volume: -1},
		},
		{
			name: "pause",
			raw:  "PAUSE",
			want: Command{Op: OpPause, Volume: -1},
		},
		{
			name: "resume",
			raw:  "RESUME",
			want: Command{Op: OpResume, Volume: -1},
		},
		{
			name: "seek whole seconds",
			raw:  "SEEK:90",
			want: Command{Op: OpSeek, Seek: 90, Volume: -1},
		},
		{
			name: "seek fractional",
			raw:  "SEEK:12.5",
			want: Command{Op: OpSeek, Seek: 12.5, Volume: -1},
		},
		{name: "play with volume rejected", raw: "PLAY:x.mp4:80", wantErr: true},
		{name: "targeted stop rejected", raw: "STOP:x.mp4", wantErr: true},
		{name: "volume rejected", raw: "VOLUME:50", wantErr: true},
		{name: "seek negative", raw: "SEEK:-3", wantErr: true},
		{name: "seek not a number", raw: "SEEK:there", wantErr: true},
		{name: "stop_video with argument", raw: "STOP_VIDEO:x.mp4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(LaneVideo, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrBadCommand) {
					t.Errorf("expected ErrBadCommand, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
