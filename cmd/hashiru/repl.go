package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	hashiru "github.com/kunpai/AcadHASHIRU"
	"github.com/kunpai/AcadHASHIRU/store/sqlite"
)

// repl is a line-oriented front end over the orchestrator. Each input line
// becomes a user turn; intermediate snapshots render as streaming text and
// activity lines, and the committed conversation is persisted per turn.
type repl struct {
	orch  *hashiru.Orchestrator
	store *sqlite.Store
	in    io.Reader
	out   io.Writer

	sessionID string
	conv      []hashiru.Message
}

func newREPL(orch *hashiru.Orchestrator, store *sqlite.Store, in io.Reader, out io.Writer) *repl {
	return &repl{orch: orch, store: store, in: in, out: out}
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (r *repl) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx)
}

// Run reads lines until EOF or cancellation.
func (r *repl) Run(ctx context.Context) error {
	if err := r.newSession(ctx); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "hashiru ready. /new starts a fresh session, /exit quits.")
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit":
			return nil
		case line == "/new":
			if err := r.newSession(ctx); err != nil {
				return err
			}
			fmt.Fprintln(r.out, "started a new session")
			continue
		}
		r.turn(ctx, line)
	}
}

func (r *repl) newSession(ctx context.Context) error {
	now := hashiru.NowUnix()
	sess := sqlite.Session{ID: hashiru.NewID(), CreatedAt: now, UpdatedAt: now}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return err
	}
	r.sessionID = sess.ID
	r.conv = nil
	return nil
}

// turn runs one dialogue turn and persists the committed transcript.
func (r *repl) turn(ctx context.Context, input string) {
	conv := append(hashiru.CloneConversation(r.conv), hashiru.UserMessage(input))

	snapshots := make(chan hashiru.Snapshot, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.render(snapshots)
	}()

	result, err := r.orch.Run(ctx, conv, snapshots)
	<-done
	fmt.Fprintln(r.out)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	if result != nil {
		r.conv = result
	} else {
		r.conv = conv
	}
	if err := r.store.ReplaceMessages(ctx, r.sessionID, r.conv); err != nil {
		fmt.Fprintf(r.out, "transcript save failed: %v\n", err)
	}
}

// render prints snapshot progress: activity titles once, assistant text as a
// growing stream.
func (r *repl) render(snapshots <-chan hashiru.Snapshot) {
	var streamed string
	seen := make(map[string]bool)
	for snap := range snapshots {
		if len(snap) == 0 {
			continue
		}
		last := snap[len(snap)-1]
		switch {
		case last.Metadata != nil:
			if last.Metadata.ID != "" && !seen[last.Metadata.ID] {
				seen[last.Metadata.ID] = true
				fmt.Fprintf(r.out, "  [%s]\n", last.Metadata.Title)
			}
		case last.Role == hashiru.RoleAssistant:
			// Each snapshot carries the round's accumulated text; print the
			// delta. A tool round starts a fresh stream.
			if !strings.HasPrefix(last.Content, streamed) {
				fmt.Fprintln(r.out)
				streamed = ""
			}
			fmt.Fprint(r.out, last.Content[len(streamed):])
			streamed = last.Content
		}
	}
}
