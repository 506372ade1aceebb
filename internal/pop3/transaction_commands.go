package pop3

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// messageErrorResponse maps the session's message-lookup errors onto the
// wire error kinds of spec §7.
func messageErrorResponse(err error) Response {
	switch {
	case errors.Is(err, ErrNoSuchMessage), errors.Is(err, ErrMessageDeleted):
		return RenderWireError(NewWireError(KindOutOfRange, "no such message"))
	default:
		return RenderWireError(NewWireError(KindAdapterTransient, "mailbox unavailable"))
	}
}

// statCommand implements the STAT command (RFC 1939).
type statCommand struct{}

func (s *statCommand) Name() string { return "STAT" }

func (s *statCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if len(args) > 0 {
		return Response{OK: false, Message: "STAT command takes no arguments"}, nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %d", sess.MessageCount(), sess.TotalSize())}, nil
}

// listCommand implements the LIST command (RFC 1939).
type listCommand struct{}

func (l *listCommand) Name() string { return "LIST" }

func (l *listCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}

	if len(args) == 0 {
		messages := sess.AllMessages()
		lines := make([]string, len(messages))
		for i, m := range messages {
			lines[i] = fmt.Sprintf("%d %d", m.MsgNum, m.Info.Size)
		}
		return Response{
			OK:        true,
			Message:   fmt.Sprintf("%d messages (%d octets)", sess.MessageCount(), sess.TotalSize()),
			Lines:     lines,
			Multiline: true,
		}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "LIST command takes at most one argument"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		return messageErrorResponse(err), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %d", msgNum, msg.Size)}, nil
}

// retrCommand implements the RETR command (RFC 1939).
type retrCommand struct{}

func (r *retrCommand) Name() string { return "RETR" }

func (r *retrCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if len(args) != 1 {
		return Response{OK: false, Message: "RETR command requires message number"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		return messageErrorResponse(err), nil
	}

	mb := sess.Mailbox()
	if mb == nil {
		return RenderWireError(NewWireError(KindAdapterTransient, "mailbox not available")), nil
	}

	reader, err := mb.FetchMessage(ctx, msgNum)
	if err != nil {
		conn.Logger().Error("failed to retrieve message content", "msgNum", msgNum, "uid", msg.UID, "error", err.Error())
		return RenderWireError(NewWireError(KindAdapterTransient, "failed to retrieve message")), nil
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	if err != nil {
		conn.Logger().Error("failed to read message content", "msgNum", msgNum, "uid", msg.UID, "error", err.Error())
		return RenderWireError(NewWireError(KindAdapterTransient, "failed to read message")), nil
	}

	lines := splitMessageLines(string(content))

	return Response{
		OK:        true,
		Message:   fmt.Sprintf("%d octets", msg.Size),
		Lines:     lines,
		Multiline: true,
	}, nil
}

// deleCommand implements the DELE command (RFC 1939).
type deleCommand struct{}

func (d *deleCommand) Name() string { return "DELE" }

func (d *deleCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if len(args) != 1 {
		return Response{OK: false, Message: "DELE command requires message number"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	if err := sess.MarkDeleted(msgNum); err != nil {
		if errors.Is(err, ErrReadOnlyRefusal) {
			return RenderWireError(NewWireError(KindReadOnlyRefusal, "session is read-only")), nil
		}
		if errors.Is(err, ErrMessageDeleted) {
			return Response{OK: false, Message: "Message already deleted"}, nil
		}
		return messageErrorResponse(err), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("message %d deleted", msgNum)}, nil
}

// rsetCommand implements the RSET command (RFC 1939).
type rsetCommand struct{}

func (r *rsetCommand) Name() string { return "RSET" }

func (r *rsetCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if len(args) > 0 {
		return Response{OK: false, Message: "RSET command takes no arguments"}, nil
	}

	if err := sess.ResetDeletions(); err != nil {
		if errors.Is(err, ErrReadOnlyRefusal) {
			return RenderWireError(NewWireError(KindReadOnlyRefusal, "session is read-only")), nil
		}
		return RenderWireError(NewWireError(KindInternalBug, "failed to reset")), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("maildrop has %d messages", sess.MessageCount())}, nil
}

// noopCommand implements the NOOP command (RFC 1939).
type noopCommand struct{}

func (n *noopCommand) Name() string { return "NOOP" }

func (n *noopCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) > 0 {
		return Response{OK: false, Message: "NOOP command takes no arguments"}, nil
	}
	return Response{OK: true, Message: ""}, nil
}

// uidlCommand implements the UIDL command (RFC 1939 extension).
type uidlCommand struct{}

func (u *uidlCommand) Name() string { return "UIDL" }

func (u *uidlCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}

	if len(args) == 0 {
		messages := sess.AllMessages()
		lines := make([]string, len(messages))
		for i, m := range messages {
			lines[i] = fmt.Sprintf("%d %s", m.MsgNum, m.Info.UID)
		}
		return Response{OK: true, Message: "", Lines: lines, Multiline: true}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "UIDL command takes at most one argument"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		return messageErrorResponse(err), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %s", msgNum, msg.UID)}, nil
}

// topCommand implements the TOP command (RFC 2449).
type topCommand struct{}

func (t *topCommand) Name() string { return "TOP" }

func (t *topCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return RenderWireError(NewWireError(KindWrongState, "command not valid in this state")), nil
	}
	if len(args) != 2 {
		return Response{OK: false, Message: "TOP command requires message number and line count"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	lineCount, err := strconv.Atoi(args[1])
	if err != nil || lineCount < 0 {
		return Response{OK: false, Message: "Invalid line count"}, nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		return messageErrorResponse(err), nil
	}

	mb := sess.Mailbox()
	if mb == nil {
		return RenderWireError(NewWireError(KindAdapterTransient, "mailbox not available")), nil
	}

	reader, err := mb.FetchTop(ctx, msgNum, lineCount)
	if err != nil {
		conn.Logger().Error("failed to retrieve message content", "msgNum", msgNum, "uid", msg.UID, "error", err.Error())
		return RenderWireError(NewWireError(KindAdapterTransient, "failed to retrieve message")), nil
	}
	defer func() { _ = reader.Close() }()

	lines, err := readAllLines(reader)
	if err != nil {
		conn.Logger().Error("failed to read message content", "msgNum", msgNum, "uid", msg.UID, "error", err.Error())
		return RenderWireError(NewWireError(KindAdapterTransient, "failed to read message")), nil
	}

	return Response{OK: true, Message: "", Lines: lines, Multiline: true}, nil
}

// splitMessageLines splits message content into lines for POP3 response.
// Handles both LF and CRLF line endings.
func splitMessageLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	rawLines := strings.Split(content, "\n")
	if len(rawLines) > 0 && rawLines[len(rawLines)-1] == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}

	return rawLines
}

// readAllLines reads every line out of an already-truncated TOP reader.
func readAllLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// RegisterTransactionCommands registers all transaction-related commands.
func RegisterTransactionCommands() {
	RegisterCommand(&statCommand{})
	RegisterCommand(&listCommand{})
	RegisterCommand(&retrCommand{})
	RegisterCommand(&deleCommand{})
	RegisterCommand(&rsetCommand{})
	RegisterCommand(&noopCommand{})
	RegisterCommand(&uidlCommand{})
	RegisterCommand(&topCommand{})
}
