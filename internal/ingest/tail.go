// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// LineParser turns one raw log line into a SecurityEvent. ok is false for
// lines that don't describe a security-relevant observation (most lines).
type LineParser func(line string) (e store.SecurityEvent, ok bool)

// FileTailSource follows a single log file, re-opening it on rotation
// (inode change, §4.5) and resuming from a persisted byte offset across
// restarts (§4.5 journal discontinuity).
type FileTailSource struct {
	SourceName   string
	Path         string
	Parse        LineParser
	PollInterval time.Duration
	Cursors      *store.Store

	floodWindow time.Duration
}

func (f *FileTailSource) Name() string { return f.SourceName }

func (f *FileTailSource) cursorKey() string { return "tail:" + f.SourceName }

type fileCursor struct {
	Inode  uint64
	Offset int64
}

// Start implements Source. It polls the file for new bytes, tracks the
// inode to detect rotation, and coalesces identical repeated lines arriving
// within floodWindow of the line's first occurrence (§4.5): the first
// occurrence is emitted at once, and a run of repeats is emitted as one
// further event when a different line arrives. That event does not record
// how many repeats it stands for.
func (f *FileTailSource) Start(ctx context.Context, emit func(store.SecurityEvent)) error {
	poll := f.PollInterval
	if poll == 0 {
		poll = time.Second
	}
	flood := f.floodWindow
	if flood == 0 {
		flood = 2 * time.Second
	}

	var cur fileCursor
	if f.Cursors != nil {
		if found, err := f.Cursors.GetDaemonState(ctx, f.cursorKey(), &cur); err != nil {
			logging.Warn("failed to load tail cursor, reading file from the start", "source", f.SourceName, "error", err)
		} else if !found {
			cur = fileCursor{}
		}
	}

	var file *os.File
	var reader *bufio.Reader
	var lastLine string
	var lastEmit time.Time
	var repeatCount int

	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var stat unix.Stat_t
		if err := unix.Stat(f.Path, &stat); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		firstOpen := file == nil
		if file == nil || stat.Ino != cur.Inode {
			if file != nil {
				file.Close()
			}
			var err error
			file, err = os.Open(f.Path)
			if err != nil {
				continue
			}
			resumeOffset := int64(0)
			if firstOpen && stat.Ino == cur.Inode {
				// Same inode as the persisted cursor from a prior run: resume
				// from the byte offset instead of re-reading from the start.
				resumeOffset = cur.Offset
			}
			cur.Inode = stat.Ino
			cur.Offset = resumeOffset
			if resumeOffset > 0 {
				file.Seek(resumeOffset, io.SeekStart)
			}
			reader = bufio.NewReader(file)
		}

		if stat.Size < cur.Offset {
			// Truncated in place (e.g. logrotate copytruncate): restart from 0.
			cur.Offset = 0
			file.Seek(0, io.SeekStart)
			reader = bufio.NewReader(file)
		}

		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				cur.Offset += int64(len(line))
				trimmed := trimNewline(line)
				now := time.Now()
				if trimmed == lastLine && now.Sub(lastEmit) < flood {
					repeatCount++
				} else {
					if repeatCount > 0 {
						emitParsed(f, lastLine, repeatCount, emit)
					}
					lastLine = trimmed
					lastEmit = now
					repeatCount = 0
					emitParsed(f, trimmed, 0, emit)
				}
			}
			if err != nil {
				break
			}
		}

		if f.Cursors != nil {
			if err := f.Cursors.SetDaemonState(ctx, f.cursorKey(), cur); err != nil {
				logging.Warn("failed to persist tail cursor", "source", f.SourceName, "error", err)
			}
		}
	}
}

func emitParsed(f *FileTailSource, line string, repeats int, emit func(store.SecurityEvent)) {
	e, ok := f.Parse(line)
	if !ok {
		return
	}
	if repeats > 0 {
		e.Raw = []byte(line)
	}
	e.ObservedAt = time.Now()
	emit(e)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
