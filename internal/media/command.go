package media

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Lane identifies which player a command is for.
type Lane string

const (
	LaneAudio Lane = "audio"
	LaneVideo Lane = "video"
)

// Op is a parsed media operation.
type Op string

const (
	OpPlay     Op = "play"
	OpStop     Op = "stop"      // stop whatever is playing
	OpStopFile Op = "stop_file" // stop only if the named file is current
	OpPause    Op = "pause"
	OpResume   Op = "resume"
	OpVolume   Op = "volume"
	OpSeek     Op = "seek"
)

// Command is one parsed media command.
type Command struct {
	Op   Op
	File string
	// Volume is 0-100; -1 means not specified (keep the default).
	Volume int
	// Seek is an absolute position in seconds.
	Seek float64
}

// ParseCommand parses a scene action message into a Command for the given
// lane. Verbs are uppercase and colon-separated; file names therefore must
// not contain ':'.
//
// Audio grammar:
//
//	PLAY:<file>[:<volume 0-100>]   STOP   STOP:<file>
//	PAUSE   RESUME   VOLUME:<v>
//
// Video grammar:
//
//	PLAY_VIDEO:<file>   PLAY:<file>   STOP_VIDEO   STOP
//	PAUSE   RESUME   SEEK:<seconds>
func ParseCommand(lane Lane, raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Command{}, fmt.Errorf("%w: empty message", ErrBadCommand)
	}

	parts := strings.Split(raw, ":")
	verb := parts[0]
	cmd := Command{Volume: -1}

	switch verb {
	case "PLAY":
		return parsePlay(lane, parts)

	case "PLAY_VIDEO":
		if lane != LaneVideo {
			return Command{}, fmt.Errorf("%w: %s is not an audio command", ErrBadCommand, verb)
		}
		return parsePlay(lane, parts)

	case "STOP":
		if len(parts) == 1 {
			cmd.Op = OpStop
			return cmd, nil
		}
		if lane == LaneAudio && len(parts) == 2 && parts[1] != "" {
			cmd.Op = OpStopFile
			cmd.File = parts[1]
			return cmd, nil
		}
		return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, raw)

	case "STOP_VIDEO":
		if lane != LaneVideo || len(parts) != 1 {
			return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, raw)
		}
		cmd.Op = OpStop
		return cmd, nil

	case "PAUSE":
		if len(parts) != 1 {
			return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, raw)
		}
		cmd.Op = OpPause
		return cmd, nil

	case "RESUME":
		if len(parts) != 1 {
			return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, raw)
		}
		cmd.Op = OpResume
		return cmd, nil

	case "VOLUME":
		if lane != LaneAudio || len(parts) != 2 {
			return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, raw)
		}
		vol, err := parseVolume(parts[1])
		if err != nil {
			return Command{}, err
		}
		cmd.Op = OpVolume
		cmd.Volume = vol
		return cmd, nil

	case "SEEK":
		if lane != LaneVideo || len(parts) != 2 {
			return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, raw)
		}
		secs, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return Command{}, fmt.Errorf("%w: seek position %q", ErrBadCommand, parts[1])
		}
		cmd.Op = OpSeek
		cmd.Seek = secs
		return cmd, nil

	default:
		return Command{}, fmt.Errorf("%w: unknown verb %q", ErrBadCommand, verb)
	}
}

func parsePlay(lane Lane, parts []string) (Command, error) {
	cmd := Command{Op: OpPlay, Volume: -1}

	switch len(parts) {
	case 2:
		cmd.File = parts[1]
	case 3:
		if lane != LaneAudio {
			return Command{}, fmt.Errorf("%w: video PLAY takes no volume", ErrBadCommand)
		}
		cmd.File = parts[1]
		vol, err := parseVolume(parts[2])
		if err != nil {
			return Command{}, err
		}
		cmd.Volume = vol
	default:
		return Command{}, fmt.Errorf("%w: PLAY needs a file", ErrBadCommand)
	}

	if cmd.File == "" {
		return Command{}, fmt.Errorf("%w: PLAY needs a file", ErrBadCommand)
	}
	return cmd, nil
}

func parseVolume(s string) (int, error) {
	vol, err := strconv.Atoi(s)
	if err != nil || vol < 0 || vol > 100 {
		return 0, fmt.Errorf("%w: volume %q (want 0-100)", ErrBadCommand, s)
	}
	return vol, nil
}
