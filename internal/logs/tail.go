package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"imaginer/internal/logging"
)

// TailOptions selects which lines Tail returns. A negative Offset reads the
// last Limit matching lines; otherwise reading resumes at Offset.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// JobID keeps only lines logged for that job.
	JobID string
	// MinLevel drops lines below the given slog level name.
	MinLevel string
}

// TailResult holds the matched lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the daemon log at path.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	match, err := newMatcher(opts)
	if err != nil {
		return result, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		lines, offset, err := readLastLines(path, opts.Limit, match)
		if err != nil {
			return result, err
		}
		result.Lines = lines
		result.Offset = offset
		if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
			return waitForLines(ctx, path, result.Offset, opts.Wait, match)
		}
		return result, nil
	}

	return readFromOffset(ctx, path, opts, match)
}

type matcher func(line string) bool

func newMatcher(opts TailOptions) (matcher, error) {
	jobID := strings.TrimSpace(opts.JobID)
	levelName := strings.TrimSpace(opts.MinLevel)
	if jobID == "" && levelName == "" {
		return nil, nil
	}
	var minLevel slog.Level
	if levelName != "" {
		if err := minLevel.UnmarshalText([]byte(levelName)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", levelName, err)
		}
	}
	return func(line string) bool {
		level, lineJob, ok := parseLine(line)
		if !ok {
			return false
		}
		if levelName != "" && level < minLevel {
			return false
		}
		if jobID != "" && lineJob != jobID && lineJob != logging.ShortJobID(jobID) {
			return false
		}
		return true
	}, nil
}

// parseLine extracts the level and job id from a JSON or console log line.
// Console lines only carry the short job id prefix.
func parseLine(line string) (slog.Level, string, bool) {
	var level slog.Level
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var entry struct {
			Level string `json:"level"`
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
			return level, "", false
		}
		if err := level.UnmarshalText([]byte(entry.Level)); err != nil {
			return level, "", false
		}
		return level, entry.JobID, true
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return level, "", false
	}
	if err := level.UnmarshalText([]byte(fields[1])); err != nil {
		return level, "", false
	}
	var jobID string
	for _, field := range fields[2:min(len(fields), 4)] {
		field = strings.TrimSuffix(field, ":")
		if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
			jobID = strings.Trim(field, "[]")
			break
		}
	}
	return level, jobID, true
}

func keep(match matcher, line string) bool {
	return match == nil || match(line)
}

func readLastLines(path string, limit int, match matcher) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ring := make([]string, limit)
	count := 0
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !keep(match, line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

func readFromOffset(ctx context.Context, path string, opts TailOptions, match matcher) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}

	offset := opts.Offset
	// A file smaller than the offset was truncated or rotated.
	if offset > info.Size() {
		offset = 0
	}

	lines, newOffset, err := readForward(path, offset, opts.Limit, match)
	if err != nil {
		return result, err
	}
	result.Lines = lines
	result.Offset = newOffset

	if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
		return waitForLines(ctx, path, newOffset, opts.Wait, match)
	}
	return result, nil
}

// readForward reads complete lines from offset. A trailing partial line is
// left for the next call. A positive limit stops after that many matches.
func readForward(path string, offset int64, limit int, match matcher) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	pos := offset
	for limit <= 0 || len(lines) < limit {
		raw, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		pos += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")
		if keep(match, line) {
			lines = append(lines, line)
		}
	}
	return lines, pos, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match matcher) (TailResult, error) {
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, newOffset, err := readForward(path, result.Offset, 0, match)
		if err != nil {
			return result, err
		}
		result.Offset = newOffset
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
